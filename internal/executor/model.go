package executor

type Status string

const (
	StatusSuccess      Status = "success"
	StatusCompileError Status = "compile-error"
	StatusError        Status = "error"
)

type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"output"`
}

type Request struct {
	Code      string     `json:"code"`
	Language  string     `json:"language"`
	TestCases []TestCase `json:"testCases"`
}

// TestResult is produced for every test case, including the ones that failed to run.
type TestResult struct {
	Input    string  `json:"input"`
	Passed   bool    `json:"passed"`
	Output   string  `json:"output"`
	Expected string  `json:"expected"`
	Error    *string `json:"error"`
}

// Outcome describes the pipeline, not the verdict: StatusSuccess means every test case
// was attempted, even if none passed.
type Outcome struct {
	Status      Status       `json:"status"`
	Message     string       `json:"message,omitempty"`
	TestResults []TestResult `json:"testResults"`
}

// Passed counts passing test results.
func (o *Outcome) Passed() int {
	n := 0
	for _, r := range o.TestResults {
		if r.Passed {
			n++
		}
	}
	return n
}

func errorOutcome(status Status, message string) *Outcome {
	return &Outcome{
		Status:      status,
		Message:     message,
		TestResults: []TestResult{},
	}
}
