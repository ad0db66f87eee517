package engine

// State is the runner's position in the cycle. It is logged on every
// transition and written to the runtime status file.
type State string

const (
	StateIdle            State = "idle"
	StateConfiguring     State = "configuring"
	StatePerPairAnalysis State = "per_pair_analysis"
	StateDeciding        State = "deciding"
	StateNormalizing     State = "normalizing"
	StateGuarding        State = "guarding"
	StateSubmitting      State = "submitting"
	StateNotifying       State = "notifying"
	StateSleeping        State = "sleeping"
	StateTerminated      State = "terminated"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomePartial: the cycle completed but at least one pair was skipped,
	// failed or had its order refused by the exchange.
	OutcomePartial Outcome = "partial"
	// OutcomeFatal: nothing useful happened, every pair failed or the cycle
	// could not run at all.
	OutcomeFatal Outcome = "fatal"
)

type PairOutcome string

const (
	PairConfigError  PairOutcome = "config_error"
	PairNoSignal     PairOutcome = "no_signal"
	PairRefused      PairOutcome = "refused"
	PairOrdered      PairOutcome = "ordered"
	PairSubmitFailed PairOutcome = "submit_failed"
	PairFailed       PairOutcome = "failed"
	PairAborted      PairOutcome = "aborted"
)
