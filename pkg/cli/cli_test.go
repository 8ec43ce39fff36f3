package cli

import (
	"fmt"
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	fmtls "github.com/getmockd/fakemesh/pkg/tls"
)

// TestMain lets scripts run fakemesh in-process through testscript.
func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"fakemesh": Main,
		"genpki":   genpkiMain,
	}))
}

// genpkiMain writes a CA, server and client key pairs to the directory
// named by its first argument.
func genpkiMain() int {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: genpki DIR")
		return 2
	}
	if _, err := fmtls.GeneratePKI(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/script",
	})
}
