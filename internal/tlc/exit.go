package tlc

// MinDomainExit is the lowest exit code TLC uses for results of the checked
// specification. Lower nonzero codes come from the JVM or the tooling around it.
const MinDomainExit = 10

var exitNames = map[int]string{
	0:   "success",
	10:  "assumption violated",
	11:  "deadlock",
	12:  "safety violation",
	13:  "liveness violation",
	14:  "assertion failed",
	75:  "general error",
	150: "specification parse error",
	151: "configuration parse error",
	152: "state space too large",
	153: "system error",
}

// IsToolingExit reports whether an exit code means the tooling failed rather than
// the checked specification. Negative codes are processes killed by a signal.
func IsToolingExit(code int) bool {
	return code != 0 && code < MinDomainExit
}

// ExitStatusName describes a TLC exit code.
func ExitStatusName(code int) string {
	if name, ok := exitNames[code]; ok {
		return name
	}
	if IsToolingExit(code) {
		return "tooling failure"
	}
	return "unknown"
}
