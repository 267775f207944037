package registry

import "fmt"

// Family describes one runtime language family, adapted from the
// teacher's internal/runtime.Runtime interface (Name/Image/Command/
// FileExtension/Validate for container execution) into the shape this
// controller needs: a family name, the compile requirement, and a
// payload-size validation rule. There is no Image/Command here because
// the controller never starts a container itself — that is the already-
// running runtime worker's job.
type Family struct {
	Name            string
	FileExtension   string
	RequiresCompile bool
	MaxScriptSize   int
}

func (f Family) Validate(code string) error {
	if len(code) == 0 {
		return fmt.Errorf("empty script_content")
	}
	if f.MaxScriptSize > 0 && len(code) > f.MaxScriptSize {
		return fmt.Errorf("script_content too large: %d bytes (max %d)", len(code), f.MaxScriptSize)
	}
	return nil
}

// DefaultFamilies returns the three runtime families spec.md's end-to-end
// scenarios require (nodejs, python, rust). Adapted from the teacher's
// node.go/go.go descriptors; bash.go and claude.go have no analog in this
// domain and are dropped (see DESIGN.md).
func DefaultFamilies() map[string]Family {
	return map[string]Family{
		"nodejs": {Name: "nodejs", FileExtension: ".js", RequiresCompile: false, MaxScriptSize: 1 << 20},
		"python": {Name: "python", FileExtension: ".py", RequiresCompile: false, MaxScriptSize: 1 << 20},
		"rust":   {Name: "rust", FileExtension: ".rs", RequiresCompile: true, MaxScriptSize: 1 << 20},
	}
}

// RequiresCompile reports whether languageTitle's family needs a
// pre-invocation artifact build, matching session.RequiresCompileFunc.
func RequiresCompile(families map[string]Family) func(languageTitle string) bool {
	return func(languageTitle string) bool {
		f, ok := families[familyPrefix(languageTitle)]
		return ok && f.RequiresCompile
	}
}
