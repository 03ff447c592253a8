package flaws

// SaveOption configures a single Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	token       string
	forceCreate bool
	raise       bool
	softFail    bool
}

func newSaveOptions(opts []SaveOption) saveOptions {
	o := saveOptions{raise: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithToken supplies the tracker token of the acting user. Without a token
// Save never contacts the tracker.
func WithToken(token string) SaveOption {
	return func(o *saveOptions) { o.token = token }
}

// WithForceCreate creates a task for a stored flaw that has none.
func WithForceCreate() SaveOption {
	return func(o *saveOptions) { o.forceCreate = true }
}

// WithoutValidationErrors commits a flaw that fails validation. The failure
// is reported in SaveResult.Validation and failed fields are not synced.
func WithoutValidationErrors() SaveOption {
	return func(o *saveOptions) { o.raise = false }
}

// WithSoftFail keeps tracker errors on an existing task from failing the
// save. The error is reported in SaveResult.Sync.Suppressed.
func WithSoftFail() SaveOption {
	return func(o *saveOptions) { o.softFail = true }
}
