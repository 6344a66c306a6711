package main

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/containerd/nerdctl/mod/tigron/expect"
	"github.com/containerd/nerdctl/mod/tigron/test"

	"github.com/farcloser/agar/pkg/agar"
)

// setup configures a test.Case driving the built waveforge binary from
// the project's bin/ directory.
func setup() *test.Case {
	_, thisFile, _, _ := runtime.Caller(0) //nolint:dogsled // runtime.Caller returns 4 values, only file is needed
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	binaryPath := filepath.Join(projectRoot, "bin", "waveforge")

	return agar.Setup(binaryPath)
}

func TestTranscodeCLI(t *testing.T) {
	testCase := setup()

	testCase.SubTests = []*test.Case{
		{
			Description: "transcode without arguments fails",
			Command:     test.Command("transcode"),
			Expected:    test.Expects(expect.ExitCodeGenericFail, nil, nil),
		},
		{
			Description: "transcode with a single argument fails",
			Command:     test.Command("transcode", "/nonexistent/path/in.wav"),
			Expected:    test.Expects(expect.ExitCodeGenericFail, nil, nil),
		},
		{
			Description: "transcode a nonexistent input file fails",
			Command:     test.Command("transcode", "/nonexistent/path/in.wav", "/nonexistent/path/out.wav"),
			Expected:    test.Expects(expect.ExitCodeGenericFail, nil, nil),
		},
		{
			Description: "transcode an unrecognized --container fails before touching the input",
			Setup: func(data test.Data, helpers test.Helpers) {
				data.Labels().Set("file", agar.Genuine16bit44k(data, helpers))
			},
			Command: func(data test.Data, helpers test.Helpers) test.TestableCommand {
				return helpers.Command(
					"transcode",
					"--container", "bogus",
					data.Labels().Get("file"),
					data.Labels().Get("file")+".out",
				)
			},
			Expected: test.Expects(expect.ExitCodeGenericFail, nil, nil),
		},
	}

	testCase.Run(t)
}
