package parse

import "testing"

func TestJUnit_SuitesWithStatuses(t *testing.T) {
	xml := []byte(`<?xml version="1.0"?>
<testsuites>
  <testsuite name="unit">
    <testcase name="T1::test_login" classname="tests.auth" time="0.25"/>
    <testcase name="T2::test_reset" classname="tests.auth" time="1.5">
      <failure message="assert failed">trace</failure>
    </testcase>
    <testcase name="test_misc" classname="autoqa:T3">
      <skipped/>
    </testcase>
  </testsuite>
</testsuites>`)

	results, err := JUnit(xml)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	if results[0].TestID != "T1" || results[0].Name != "test_login" || results[0].Status != "passed" {
		t.Fatalf("first result: %+v", results[0])
	}
	if results[0].DurationMS == nil || *results[0].DurationMS != 250 {
		t.Fatalf("duration: %+v", results[0].DurationMS)
	}
	if results[1].Status != "failed" || results[1].ErrorMessage != "assert failed" {
		t.Fatalf("failure result: %+v", results[1])
	}
	if results[2].TestID != "T3" || results[2].Status != "skipped" {
		t.Fatalf("classname id result: %+v", results[2])
	}
}

func TestJUnit_BareSuiteRootAndErrorElement(t *testing.T) {
	xml := []byte(`<testsuite name="unit">
  <testcase name="plain_name">
    <error>boom</error>
  </testcase>
</testsuite>`)

	results, err := JUnit(xml)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].TestID != "plain_name" || results[0].Status != "failed" || results[0].ErrorMessage != "boom" {
		t.Fatalf("result: %+v", results[0])
	}
}

func TestJUnit_InvalidXML(t *testing.T) {
	if _, err := JUnit([]byte("<testsuites><broken")); err == nil {
		t.Fatalf("expected error for truncated xml")
	}
}
