package norfs

import "github.com/hupe1980/norfs/internal/leak"

// LeakHandler is called with a description of a writer, reader or table
// builder that was garbage collected without being closed.
type LeakHandler func(resource string)

// SetLeakHandler installs h for the whole process and returns a function
// that restores the previous handler. The default handler panics. A nil h
// restores the default.
func SetLeakHandler(h LeakHandler) (restore func()) {
	if h == nil {
		return leak.SetHandler(nil)
	}
	return leak.SetHandler(leak.Handler(h))
}
