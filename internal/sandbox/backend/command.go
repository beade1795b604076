package backend

import (
	"strings"

	"codesandbox/internal/sandbox/profile"
	appErr "codesandbox/pkg/errors"

	"github.com/google/shlex"
)

// CommandVars are the values substituted into command templates.
type CommandVars struct {
	Src string
	Bin string
	Dir string
}

// VarsFor returns template values for a language rooted at dir.
func VarsFor(lang profile.LanguageSpec, dir string) CommandVars {
	return CommandVars{Src: lang.SourceFile, Bin: lang.BinaryFile, Dir: dir}
}

// BuildCommand splits a template with shell quoting rules and substitutes
// {src}, {bin} and {dir} in every argument.
func BuildCommand(tpl string, vars CommandVars) ([]string, error) {
	tpl = strings.TrimSpace(tpl)
	if tpl == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is empty")
	}
	args, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	replacer := strings.NewReplacer("{src}", vars.Src, "{bin}", vars.Bin, "{dir}", vars.Dir)
	for i, arg := range args {
		args[i] = replacer.Replace(arg)
	}
	if len(args) == 0 || args[0] == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template has no program")
	}
	return args, nil
}

// CompileDiagnostic picks the compiler message shown to the user.
func CompileDiagnostic(stdout, stderr string, timedOut bool) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(stdout)
	}
	if timedOut {
		if msg == "" {
			return "compilation timed out"
		}
		return "compilation timed out\n" + msg
	}
	return msg
}
