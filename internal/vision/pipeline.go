package vision

// Pipeline is a user-supplied unit that transforms one video frame into
// another. Implementations are treated as untrusted: they may block, panic,
// or return errors, and the supervisor must survive all three.
//
// Init is called once with the first frame the pipeline sees, before its
// first ProcessFrame. OnViewportTapped is a best-effort hook invoked when the
// user taps the viewport.
type Pipeline interface {
	Init(frame *Frame)
	ProcessFrame(frame *Frame) (*Frame, error)
	OnViewportTapped()
}

// TunableField exposes one live-editable pipeline field by name. Get and Set
// close over the owning pipeline's storage; no runtime reflection is
// involved.
type TunableField struct {
	Name string
	Get  func() interface{}
	Set  func(v interface{}) error
}

// TunableContainer is the capability interface for pipelines that expose
// tunable fields for live editing and snapshot persistence. The field order
// returned by ListFields is stable.
type TunableContainer interface {
	ListFields() []TunableField
}

// FieldFilter decides which fields of a container are tunable. Supplied by a
// collaborator (typically the variable-tuner UI); the snapshot store applies
// it during capture.
type FieldFilter func(f TunableField) bool

// AllFields is the default filter: every listed field is tunable.
func AllFields(TunableField) bool { return true }

// PostContext identifies which pipeline produced a posted frame so consumers
// can discard results that belong to a pipeline that is no longer active.
type PostContext struct {
	DefName  string
	FrameSeq uint64
}

// Poster consumes processed frames. The supervisor guarantees at-most-once
// delivery per successfully completed frame and isolates a poster's panic
// from other posters and from the pipeline.
type Poster interface {
	Post(frame *Frame, ctx PostContext)
}

// PosterFunc adapts a function to the Poster interface.
type PosterFunc func(frame *Frame, ctx PostContext)

// Post implements Poster.
func (f PosterFunc) Post(frame *Frame, ctx PostContext) { f(frame, ctx) }
