//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo detects the Add/Done goroutine pattern and suggests wg.Go().
//
// Old pattern:
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    doSomething()
//	}()
//
// New pattern (Go 1.25+):
//
//	wg.Go(func() {
//	    doSomething()
//	})
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("sync.WaitGroup") || m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of Add(1) with go func and defer Done()").
		Suggest("$wg.Go(func() { $body })")

	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }()")
}

// EnhancedErrors keeps the capture packages on the internal errors builder,
// so every failure carries a component and category for metrics and logs.
//
// Old pattern:
//
//	return fmt.Errorf("poll failed: %w", err)
//
// New pattern:
//
//	return errors.New(err).Component("worker").Category(errors.CategoryEncoderPoll).Build()
func EnhancedErrors(m dsl.Matcher) {
	m.Import("errors")

	m.Match(`fmt.Errorf($*_)`).
		Where(m.File().PkgPath.Matches(`internal/(worker|sink|snapshot|hal|codec|consumer|mqtt|report|api)`)).
		Report("use the internal/errors builder instead of fmt.Errorf in capture packages")

	m.Match(`errors.New($s)`).
		Where(m["s"].Type.Is("string") &&
			m.File().PkgPath.Matches(`internal/(worker|sink|snapshot|hal|codec|consumer|mqtt|report|api)`)).
		Report("use errors.Newf(...).Component(...).Category(...).Build() instead of a bare error string")
}

// PrintLogging flags ad-hoc printing in library packages; use a module
// logger from internal/logger instead.
func PrintLogging(m dsl.Matcher) {
	m.Match(`fmt.Println($*_)`, `fmt.Printf($*_)`, `log.Println($*_)`, `log.Printf($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("use a module logger (logger.Global().Module(...)) instead of printing")
}

// HardwareCallUnderSinkLock reports hardware calls made while a channel
// mutex is held. Sink access must never wait on the encoder.
func HardwareCallUnderSinkLock(m dsl.Matcher) {
	m.Match(
		`$mu.Lock(); $*_; $_.Poll($*_); $*_`,
		`$mu.Lock(); $*_; $_.GetStream($*_); $*_`,
		`$mu.Lock(); $*_; $_.ReleaseStream($*_); $*_`,
	).
		Where(m["mu"].Type.Is("sync.Mutex") && m.File().PkgPath.Matches(`internal/worker`)).
		Report("do not call the encoder while holding $mu")
}
