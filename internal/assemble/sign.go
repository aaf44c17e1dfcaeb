package assemble

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/goplus/apkbuild/internal/toolchain"
	"github.com/goplus/apkbuild/internal/version"
)

// Environment variables the signing passwords are handed to apksigner in,
// so they never appear on a command line.
const (
	KeystorePassEnv = "APKBUILD_KEYSTORE_PASSWD"
	KeyPassEnv      = "APKBUILD_KEYALIAS_PASSWD"
)

// Signing holds the credentials a package is signed with.
type Signing struct {
	Keystore     string
	KeyAlias     string
	KeystorePass string
	// KeyPass defaults to KeystorePass.
	KeyPass string
}

// Signer signs the package at in, writing the signed package to out.
type Signer interface {
	Sign(ctx context.Context, in, out string, s Signing) error
}

// Apksigner signs with the SDK's apksigner tool.
type Apksigner struct {
	// Path is the apksigner executable; empty means apksigner on PATH.
	Path   string
	Runner toolchain.Runner
}

// FindApksigner returns the apksigner of the newest build-tools in the SDK
// at sdk.
func FindApksigner(sdk string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(sdk, "build-tools", "*", "apksigner"))
	if err != nil {
		return "", err
	}
	best := ""
	for _, m := range matches {
		if best == "" || version.Compare(filepath.Base(filepath.Dir(m)), filepath.Base(filepath.Dir(best))) > 0 {
			best = m
		}
	}
	if best == "" {
		return "", errors.New("apksigner not found in " + filepath.Join(sdk, "build-tools"))
	}
	return best, nil
}

func (a *Apksigner) Sign(ctx context.Context, in, out string, s Signing) error {
	bin := a.Path
	if bin == "" {
		var err error
		if bin, err = exec.LookPath("apksigner"); err != nil {
			return err
		}
	}
	keyPass := s.KeyPass
	if keyPass == "" {
		keyPass = s.KeystorePass
	}
	err := a.Runner.Run(ctx, toolchain.Command{
		Name: "apksigner",
		Path: bin,
		Args: []string{
			"sign",
			"--ks", s.Keystore,
			"--ks-key-alias", s.KeyAlias,
			"--ks-pass", "env:" + KeystorePassEnv,
			"--key-pass", "env:" + KeyPassEnv,
			"--out", out,
			in,
		},
		Env: append(os.Environ(),
			KeystorePassEnv+"="+s.KeystorePass,
			KeyPassEnv+"="+keyPass,
		),
	})
	return err
}
