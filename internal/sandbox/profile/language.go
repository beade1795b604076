// Package profile defines how each language is compiled and run.
package profile

// LanguageSpec defines how to compile and run a language.
//
// Command templates are split with shell quoting rules and may reference
// {src}, {bin} and {dir}; paths are relative to the program directory.
type LanguageSpec struct {
	ID               string   `yaml:"id" json:"id"`
	Name             string   `yaml:"name" json:"name"`
	Version          string   `yaml:"version" json:"version"`
	SourceFile       string   `yaml:"sourceFile" json:"source_file"`
	BinaryFile       string   `yaml:"binaryFile" json:"binary_file"`
	CompileEnabled   bool     `yaml:"compileEnabled" json:"compile_enabled"`
	CompileCmdTpl    string   `yaml:"compileCmd" json:"compile_cmd"`
	RunCmdTpl        string   `yaml:"runCmd" json:"run_cmd"`
	Image            string   `yaml:"image" json:"image"`
	Env              []string `yaml:"env" json:"env"`
	TimeMultiplier   float64  `yaml:"timeMultiplier" json:"time_multiplier"`
	MemoryMultiplier float64  `yaml:"memoryMultiplier" json:"memory_multiplier"`

	// UnboundedAddressSpace skips the virtual memory ceiling for runtimes
	// that reserve far more address space than they touch (JVM, V8, Go).
	UnboundedAddressSpace bool `yaml:"unboundedAddressSpace" json:"unbounded_address_space"`
}
