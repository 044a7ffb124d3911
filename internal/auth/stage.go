// stage.go -- Pipeline stage abstraction.
//
// A Stage runs before the route handler and decides whether the request goes
// on (Continue, possibly with a new context) or stops here (Terminate). Stages
// become chi middleware through Intercept in middleware.go.
package auth

import "net/http"

// Stage intercepts a request ahead of the next handler.
// A non-nil error stops the pipeline and is mapped to a response by Intercept;
// the stage must not have written to w in that case.
type Stage interface {
	Intercept(w http.ResponseWriter, r *http.Request) (Result, error)
}

// Result tells Intercept what to do after a stage ran.
type Result struct {
	next *http.Request // nil = terminate
}

// Continue passes r to the next handler.
func Continue(r *http.Request) Result {
	return Result{next: r}
}

// Terminate ends the pipeline; the stage has already written the response.
func Terminate() Result {
	return Result{}
}

// Terminated reports whether the pipeline stops here.
func (res Result) Terminated() bool {
	return res.next == nil
}

// Request returns the request to hand to the next handler, nil if terminated.
func (res Result) Request() *http.Request {
	return res.next
}
