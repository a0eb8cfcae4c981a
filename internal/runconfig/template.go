package runconfig

import (
	"strconv"
	"strings"
)

// Placeholders recognised in argument templates.
const (
	PlaceholderJobParam   = "${jobParam}"
	PlaceholderShardIndex = "${shardIndex}"
	PlaceholderShardTotal = "${shardTotal}"
)

// Context carries the scheduler-supplied values for substitution.
type Context struct {
	JobParam   string
	ShardIndex int
	ShardTotal int
}

// Substitute replaces every placeholder occurrence in each argument.
// Unknown placeholders are left verbatim. Replacement happens in a single
// pass, so placeholder text inside a substituted value is not expanded again.
// A nil template yields nil.
func Substitute(args []string, ctx Context) []string {
	if args == nil {
		return nil
	}
	r := strings.NewReplacer(
		PlaceholderJobParam, ctx.JobParam,
		PlaceholderShardIndex, strconv.Itoa(ctx.ShardIndex),
		PlaceholderShardTotal, strconv.Itoa(ctx.ShardTotal),
	)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = r.Replace(arg)
	}
	return out
}
