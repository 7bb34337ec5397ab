package conn

// Executor is the asynchronous command boundary. Every call delivers exactly one
// continuation per command, on the owner loop.
//
// A db below zero targets the connection's dedicated session socket without
// selecting a database first; SELECT probes rely on it.
type Executor interface {
	Cmd(args []string, db int, onSuccess func(Response), onFailure func(error))
	PipelinedCmd(cmds [][]string, db int, onEach func(Response, error))
}

// Mode is the server topology behind a connection.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSentinel
	ModeCluster
)

func (m Mode) String() string {
	switch m {
	case ModeCluster:
		return "cluster"
	case ModeSentinel:
		return "sentinel"
	}
	return "standalone"
}

func ParseMode(s string) Mode {
	switch s {
	case "cluster":
		return ModeCluster
	case "sentinel":
		return ModeSentinel
	}
	return ModeNormal
}
