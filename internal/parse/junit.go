package parse

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// TestResult is one testcase from a JUnit report, normalized.
type TestResult struct {
	TestID       string `json:"test_id"`
	Name         string `json:"name"`
	ClassName    string `json:"classname"`
	Status       string `json:"status"` // passed, failed, skipped
	DurationMS   *int64 `json:"duration_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure"`
	Error     *junitFailure `xml:"error"`
	Skipped   *struct{}     `xml:"skipped"`
}

type junitSuite struct {
	Cases []junitCase `xml:"testcase"`
}

type junitSuites struct {
	XMLName xml.Name
	Cases   []junitCase  `xml:"testcase"`
	Suites  []junitSuite `xml:"testsuite"`
}

// JUnit parses a JUnit XML report. Both <testsuites> and a bare <testsuite>
// root are accepted. Manifest test ids are recovered from the
// "T<n>::test_name" name convention or an "autoqa:T<n>" classname.
func JUnit(content []byte) ([]TestResult, error) {
	var root junitSuites
	if err := xml.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("invalid junit xml: %w", err)
	}

	var cases []junitCase
	switch root.XMLName.Local {
	case "testsuites":
		for _, s := range root.Suites {
			cases = append(cases, s.Cases...)
		}
	case "testsuite":
		cases = root.Cases
	}

	results := make([]TestResult, 0, len(cases))
	for _, tc := range cases {
		r := TestResult{Name: tc.Name, ClassName: tc.ClassName, Status: "passed"}
		r.TestID, r.Name = extractTestID(tc.Name, tc.ClassName)

		switch {
		case tc.Failure != nil:
			r.Status = "failed"
			r.ErrorMessage = failureMessage(tc.Failure)
		case tc.Error != nil:
			r.Status = "failed"
			r.ErrorMessage = failureMessage(tc.Error)
		case tc.Skipped != nil:
			r.Status = "skipped"
		}

		if tc.Time != "" {
			if secs, err := strconv.ParseFloat(tc.Time, 64); err == nil {
				ms := int64(secs * 1000)
				r.DurationMS = &ms
			}
		}
		results = append(results, r)
	}
	return results, nil
}

func extractTestID(name, className string) (id, testName string) {
	if i := strings.Index(name, "::"); i > 0 && strings.HasPrefix(name, "T") {
		return name[:i], name[i+2:]
	}
	if strings.HasPrefix(className, "autoqa:") {
		return strings.TrimPrefix(className, "autoqa:"), name
	}
	if parts := strings.Split(className, "::"); len(parts) > 1 && strings.HasPrefix(parts[len(parts)-1], "T") {
		return parts[len(parts)-1], name
	}
	return name, name
}

func failureMessage(f *junitFailure) string {
	if f.Message != "" {
		return f.Message
	}
	return strings.TrimSpace(f.Body)
}
