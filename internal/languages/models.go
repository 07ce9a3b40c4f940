package languages

// WorkDir is where the request workspace is mounted inside every container.
const WorkDir = "/app"

// Pipeline describes how a language turns source into a running program. It is either
// Interpreted or Compiled.
type Pipeline interface {
	RunCommand() []string
	isPipeline()
}

// Interpreted languages run the source file directly.
type Interpreted struct {
	Run []string
}

// Compiled languages run Compile once per request, then Run once per test case.
type Compiled struct {
	Compile []string
	Run     []string
}

func (p Interpreted) RunCommand() []string {
	return p.Run
}

func (Interpreted) isPipeline() {}

func (p Compiled) RunCommand() []string {
	return p.Run
}

func (Compiled) isPipeline() {}

type Language struct {
	ID         string
	Name       string
	Image      string
	SourceFile string
	Pipeline   Pipeline
}

// CompileCommand returns the compile argv, or nil for interpreted languages.
func (l Language) CompileCommand() []string {
	if c, ok := l.Pipeline.(Compiled); ok {
		return c.Compile
	}
	return nil
}
