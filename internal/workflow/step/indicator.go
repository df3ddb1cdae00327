package step

// Indicator is the minimal visual progress surface a Running job drives: a
// bounded bar when the step declares a progress pattern, or an
// indeterminate spinner otherwise. Concrete implementations live in
// internal/workflow/progressui; this package only depends on the
// interface, so the state machine never imports the UI bridge.
type Indicator interface {
	SetPosition(position uint)
	Tick()
	Finish()
}

// NoopIndicator discards every update. Used when a Running job is never
// attached to a visual indicator (e.g. non-interactive batch runs).
type NoopIndicator struct{}

func (NoopIndicator) SetPosition(uint) {}
func (NoopIndicator) Tick()            {}
func (NoopIndicator) Finish()          {}
