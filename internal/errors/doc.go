// Package errors provides structured error messages for the lugma CLI.
//
// Each LugmaError has a code (e.g. "L201") that maps to a category, a short
// message and, for most codes, a detail and a hint:
//   - L1xx: config (lugma.yaml)
//   - L2xx: transport (unary calls and stream dials)
//   - L3xx: protocol (frames, handshakes, closed streams)
//   - L4xx: cli (flags and arguments)
//
// Classify turns errors from pkg/transport, pkg/stream and pkg/protocol into
// coded errors:
//
//	if err != nil {
//	    errors.FprintStyle(os.Stderr, errors.Classify(err, errors.CategoryCLI), errors.StylePretty)
//	    os.Exit(1)
//	}
//
// StyleCompact prints one line per error and StyleJSON one JSON object,
// for scripts driving lugma call and lugma listen.
//
// Errors raised while reading lugma.yaml carry the file location:
//
//	ERROR L102: Invalid lugma.yaml
//
//	  lugma.yaml:3
//
//	       1 │ name: chat
//	       2 │ server:
//	  →    3 │   address: [
package errors
