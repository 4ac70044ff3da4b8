package main

// gitCommit is stamped by the build via the linker
var gitCommit string

// Version returns the build tag baked into this binary
func Version() string {

	if len(gitCommit) == 0 {
		return "unknown"
	}
	return gitCommit
}

//
// end of file
//
