package handler

// Result is the normalized outcome of one handler execution. Code 0 is success.
type Result struct {
	Code          int    `json:"code"`
	Message       string `json:"message,omitempty"`
	HandlerName   string `json:"handler_name,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	InvocationID  string `json:"invocation_id,omitempty"`
	Err           error  `json:"-"`
}

// Succeeded reports whether the result has code 0.
func (r *Result) Succeeded() bool {
	return r != nil && r.Code == 0
}

// Success returns a code 0 result.
func Success(message string) *Result {
	return &Result{Code: 0, Message: message}
}

// Failure returns a result with a non-zero code.
func Failure(code int, message string) *Result {
	if code == 0 {
		code = 1
	}
	return &Result{Code: code, Message: message}
}

// ResultFromError converts err into a failure result carrying its message.
func ResultFromError(err error) *Result {
	if err == nil {
		return Success("")
	}
	return &Result{Code: 1, Message: err.Error(), Err: err}
}

// AllSucceeded reports whether no result in rs has a non-zero code.
func AllSucceeded(rs []*Result) bool {
	for _, r := range rs {
		if r != nil && r.Code != 0 {
			return false
		}
	}
	return true
}
