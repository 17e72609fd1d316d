//go:build !js_eval

package rules

// NewJSEvaluator returns nil without the js_eval build tag, so js rules fail
// to compile with ErrEngineUnavailable.
func NewJSEvaluator(...EngineOption) Evaluator {
	return nil
}

// JSAvailable reports whether the js rule engine is compiled in.
func JSAvailable() bool {
	return false
}
