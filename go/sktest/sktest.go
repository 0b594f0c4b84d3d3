// Package sktest provides a TestingT interface which is compatible with
// testing.T and testing.B, so that test helpers can be written without
// importing "testing" outside of _test.go files.
package sktest

// TestingT is an interface which is compatible with testing.T and testing.B.
type TestingT interface {
	Cleanup(func())
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fail()
	FailNow()
	Failed() bool
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Helper()
	Log(args ...interface{})
	Logf(format string, args ...interface{})
	Name() string
	Skip(args ...interface{})
	SkipNow()
	Skipf(format string, args ...interface{})
	Skipped() bool
}
