package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joncooperworks/installerpkg/copyutil"
	"github.com/joncooperworks/installerpkg/installer"
	"github.com/joncooperworks/installerpkg/keysuite"
	"github.com/joncooperworks/installerpkg/keysuite/storekeyring"
	"github.com/joncooperworks/installerpkg/pkgfmt"
	"github.com/joncooperworks/installerpkg/secret"
	"github.com/joncooperworks/installerpkg/tpm"
)

// packageSignaturePurpose is the literal purpose string bound into every
// detached package signature, preventing a signature minted for one
// artifact kind from being replayed to authorize another.
const packageSignaturePurpose = "wan24Setup installer package signature"

// pkiDomain is the domain a package signer's signed public key must carry
// for "install" to treat the package as trusted.
const pkiDomain = "wan24Setup"

// acquireKDFKey runs the password pipeline to derive a suite's AEAD key,
// optionally consulting an OS keyring cache first so a caller who already
// unlocked suitePath this login session isn't re-prompted. The cache is
// strictly a shortcut: a miss, an unsupported platform, or cacheKeyring
// being false all fall back to the normal password-driven derivation, and
// a successful derivation is written back to the cache for next time.
func acquireKDFKey(logger *slog.Logger, pwdEnv string, useTPM bool, suitePath string, cacheKeyring bool) (*secret.ZeroBuffer, error) {
	var cache storekeyring.Cache
	if cacheKeyring {
		c, err := storekeyring.New()
		if err != nil {
			logger.Warn("keyring cache unavailable, falling back to password prompt", "error", err)
		} else {
			cache = c
			if cached, err := cache.Get(suitePath); err == nil {
				return &secret.ZeroBuffer{B: cached}, nil
			} else if !errors.Is(err, storekeyring.ErrNotFound) {
				logger.Warn("keyring cache lookup failed", "error", err)
			}
		}
	}

	password, err := secret.Acquire(pwdEnv)
	if err != nil {
		return nil, err
	}
	defer password.Destroy()

	opts := secret.FinalizeOptions{}
	if useTPM {
		factory, err := tpm.GetFactory("noop")
		if err != nil {
			return nil, err
		}
		provider, err := factory()
		if err != nil {
			return nil, err
		}
		opts.TPM = provider
	}
	key, err := secret.Finalize(password.B, opts)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		if err := cache.Set(suitePath, key.B); err != nil {
			logger.Warn("keyring cache write failed", "error", err)
		}
	}
	return key, nil
}

func runCreateKey(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("createKey", flag.ContinueOnError)
	path := fs.String("path", "", "output path of the private key file; its KSR is written to <path>.ksr")
	email := fs.String("email", "", "owner email recorded in the self-signed KSR")
	pwdEnv := fs.String("pwd", "", "environment variable holding the password")
	domain := fs.String("domain", pkiDomain, "PKI domain recorded in the KSR")
	keyID := fs.String("keyid", "", "key identifier recorded in the KSR")
	useTPM := fs.Bool("tpm", false, "bind the derived key to the registered TPM provider")
	cacheKeyring := fs.Bool("cache-keyring", false, "cache the derived key in the OS keyring to skip future password prompts")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *path == "" || *email == "" || *pwdEnv == "" || *keyID == "" {
		return fmt.Errorf("%w: --path, --email, --pwd and --keyid are required", ErrUsage)
	}

	key, err := acquireKDFKey(logger, *pwdEnv, *useTPM, *path, *cacheKeyring)
	if err != nil {
		return err
	}
	defer key.Destroy()

	suite, err := keysuite.Generate()
	if err != nil {
		return err
	}
	ksr, err := keysuite.CreateKSR(suite, keysuite.KeyID(*keyID), *domain, *email)
	if err != nil {
		return err
	}

	if err := suite.Save(*path, key.B); err != nil {
		return err
	}
	ksrBytes, err := ksr.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*path+".ksr", ksrBytes, 0o644); err != nil {
		return fmt.Errorf("installerpkg: write ksr: %w", err)
	}

	logger.Info("key suite created", "path", *path, "ksr_path", *path+".ksr", "key_id", *keyID)
	return nil
}

func runPrintKsr(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("printKsr", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: printKsr requires exactly one KSR path argument", ErrUsage)
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("installerpkg: read ksr: %w", err)
	}
	ksr, err := keysuite.UnmarshalSignedPublicKey(data)
	if err != nil {
		return err
	}
	if err := keysuite.VerifySelfSigned(ksr); err != nil {
		return err
	}

	fmt.Printf("KeyID:      %s\n", ksr.KeyID)
	fmt.Printf("Domain:     %s\n", ksr.Domain)
	fmt.Printf("OwnerEmail: %s\n", ksr.OwnerEmail)
	fmt.Printf("IssuerKeyID: %s\n", ksr.IssuerKeyID)
	fmt.Println("self-signature: valid")
	return nil
}

func runSignKey(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("signKey", flag.ContinueOnError)
	ksrPath := fs.String("ksr", "", "path to the requester's KSR")
	outputPath := fs.String("output", "", "path to write the vendor-signed public key")
	vendorPrivate := fs.String("vendor", "", "path to the vendor's private.key")
	pwdEnv := fs.String("pwd", "", "environment variable holding the vendor password")
	vendorKeyID := fs.String("vendor-keyid", "", "the vendor suite's own key ID")
	cacheKeyring := fs.Bool("cache-keyring", false, "cache the derived key in the OS keyring to skip future password prompts")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *ksrPath == "" || *outputPath == "" || *vendorPrivate == "" || *pwdEnv == "" || *vendorKeyID == "" {
		return fmt.Errorf("%w: --ksr, --output, --vendor, --pwd and --vendor-keyid are required", ErrUsage)
	}

	key, err := acquireKDFKey(logger, *pwdEnv, false, *vendorPrivate, *cacheKeyring)
	if err != nil {
		return err
	}
	defer key.Destroy()

	vendor, err := keysuite.Load(*vendorPrivate, key.B)
	if err != nil {
		return err
	}

	ksrData, err := os.ReadFile(*ksrPath)
	if err != nil {
		return fmt.Errorf("installerpkg: read ksr: %w", err)
	}
	ksr, err := keysuite.UnmarshalSignedPublicKey(ksrData)
	if err != nil {
		return err
	}

	issued, err := keysuite.VendorSignKey(vendor, keysuite.KeyID(*vendorKeyID), ksr)
	if err != nil {
		return err
	}
	issuedBytes, err := issued.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outputPath, issuedBytes, 0o644); err != nil {
		return fmt.Errorf("installerpkg: write signed public key: %w", err)
	}

	logger.Info("signed public key issued", "key_id", ksr.KeyID, "output", *outputPath)
	return nil
}

func runCreate(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	outputPath := fs.String("create", "", "output package path")
	sourcePath := fs.String("path", "", "source directory to package")
	sign := fs.Bool("sign", false, "produce a detached .sig alongside the package")
	signedKeyPath := fs.String("signed", "", "path to this signer's signed public key")
	suitePath := fs.String("suite", "", "path to this signer's private.key")
	pwdEnv := fs.String("pwd", "", "environment variable holding the signer's password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *outputPath == "" || *sourcePath == "" {
		return fmt.Errorf("%w: --create and --path are required", ErrUsage)
	}

	base, entries, err := collectEntries(*sourcePath)
	if err != nil {
		return err
	}
	uncompressedLen, err := pkgfmt.Create(base, entries, *outputPath)
	if err != nil {
		return err
	}

	if *sign {
		if *suitePath == "" || *pwdEnv == "" || *signedKeyPath == "" {
			return fmt.Errorf("%w: --sign requires --suite, --pwd and --signed", ErrUsage)
		}
		key, err := acquireKDFKey(logger, *pwdEnv, false, *suitePath, false)
		if err != nil {
			return err
		}
		defer key.Destroy()

		signer, err := keysuite.Load(*suitePath, key.B)
		if err != nil {
			return err
		}
		if signer.Public == nil {
			signedBytes, err := os.ReadFile(*signedKeyPath)
			if err != nil {
				return fmt.Errorf("installerpkg: read signed public key: %w", err)
			}
			signed, err := keysuite.UnmarshalSignedPublicKey(signedBytes)
			if err != nil {
				return err
			}
			if err := signer.Finalize(signed); err != nil {
				return err
			}
		}

		archive, err := os.Open(*outputPath)
		if err != nil {
			return fmt.Errorf("installerpkg: reopen package for signing: %w", err)
		}
		defer archive.Close()

		sig, err := keysuite.SignPackage(signer, packageSignaturePurpose, archive)
		if err != nil {
			return err
		}
		sigBytes, err := sig.Marshal()
		if err != nil {
			return err
		}
		if err := os.WriteFile(*outputPath+".sig", sigBytes, 0o644); err != nil {
			return fmt.Errorf("installerpkg: write package signature: %w", err)
		}
	}

	// Last stdout line is the uncompressed byte length.
	fmt.Println(uncompressedLen)
	return nil
}

// collectEntries walks sourcePath and returns the base prefix (ending in
// "/", as pkgfmt.Create requires) alongside every entry beneath it.
func collectEntries(sourcePath string) (string, []pkgfmt.Entry, error) {
	absSource, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", nil, fmt.Errorf("installerpkg: resolve %q: %w", sourcePath, err)
	}
	base := absSource + "/"

	var entries []pkgfmt.Entry
	err = filepath.Walk(absSource, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == absSource {
			return nil
		}
		entries = append(entries, pkgfmt.Entry{AbsPath: path, IsDir: info.IsDir()})
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("installerpkg: walk %q: %w", sourcePath, err)
	}
	return base, entries, nil
}

func runExtract(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	inputPath := fs.String("extract", "", "package path to extract")
	targetPath := fs.String("path", "", "destination directory")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *inputPath == "" || *targetPath == "" {
		return fmt.Errorf("%w: --extract and --path are required", ErrUsage)
	}

	if err := os.MkdirAll(*targetPath, 0o755); err != nil {
		return fmt.Errorf("installerpkg: create target dir: %w", err)
	}
	src, err := openPackageSource(*inputPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := pkgfmt.Extract(src, *targetPath); err != nil {
		return err
	}
	logger.Info("extracted", "input", *inputPath, "path", *targetPath)
	return nil
}

// openPackageSource opens a package from a local path or streams it
// directly from an HTTPS URL using the system trust store.
func openPackageSource(location string) (io.ReadCloser, error) {
	if strings.HasPrefix(location, "https://") || strings.HasPrefix(location, "http://") {
		resp, err := http.Get(location)
		if err != nil {
			return nil, fmt.Errorf("installerpkg: fetch package: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("installerpkg: fetch package: unexpected status %s", resp.Status)
		}
		return resp.Body, nil
	}
	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("installerpkg: open package: %w", err)
	}
	return f, nil
}

// ErrUntrustedPackage is returned by install when a package's signature is
// missing (without -allowUnsigned) or fails chain-of-trust validation.
var ErrUntrustedPackage = errors.New("installerpkg: untrusted package")

func runInstall(logger *slog.Logger, args []string) (int, error) {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	inputPath := fs.String("install", "", "package path or URL to install")
	appPath := fs.String("path", "", "application install path the payload is copied into")
	allowUnsigned := fs.Bool("allowUnsigned", false, "permit installing a package with no .sig sidecar")
	vendorPKI := fs.String("vendorPki", "", "path to the vendor PKI trust store file")
	pid := fs.Int("pid", -1, "caller's PID to wait for on re-entry (-1 if this is the first entry)")
	postCmd := fs.String("cmd", "", "post-setup command to chain after ExitRequired installs")
	postArgs := fs.String("args", "", "arguments for the post-setup command")
	if err := fs.Parse(args); err != nil {
		return 1, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *appPath == "" {
		return 1, fmt.Errorf("%w: --path is required", ErrUsage)
	}

	// Re-entry: the setup child re-invokes this same verb with --pid/--path
	// and no --install. The parent spawned it with its working directory set
	// to the temp extraction dir, so setup.json and setup.wasm are found by
	// reading the current working directory rather than by threading the
	// temp path through as another argument. Run the setup plugin directly
	// instead of extracting a fresh package.
	if *inputPath == "" {
		dir, err := os.Getwd()
		if err != nil {
			return 1, fmt.Errorf("installerpkg: determine working directory: %w", err)
		}
		exitCode, err := installer.RunSetupAsync(context.Background(), dir, *appPath, *pid, *postCmd, *postArgs)
		return exitCode, err
	}

	if *vendorPKI == "" && !*allowUnsigned {
		return 1, fmt.Errorf("%w: --vendorPki is required unless -allowUnsigned is set", ErrUsage)
	}

	src, err := openPackageSource(*inputPath)
	if err != nil {
		return 1, err
	}
	defer src.Close()

	if err := verifyPackageSignature(*inputPath, *vendorPKI, *allowUnsigned); err != nil {
		return 1, err
	}

	tempDir, err := os.MkdirTemp("", "installerpkg-install-*")
	if err != nil {
		return 1, fmt.Errorf("installerpkg: create temp dir: %w", err)
	}

	drv := installer.New(tempDir, *appPath)
	if err := drv.Extract(src); err != nil {
		os.RemoveAll(tempDir)
		return 1, err
	}
	if err := drv.LoadDescriptor(); err != nil {
		os.RemoveAll(tempDir)
		return 1, err
	}

	outcome, err := drv.Spawn(os.Getpid())
	if err != nil {
		return 1, err
	}
	if outcome.RequireExit {
		logger.Info("setup child spawned, caller exiting for handoff", "temp_dir", tempDir)
		return 0, nil
	}

	logger.Info("setup child completed", "exit_code", outcome.ExitCode, "temp_dir", tempDir)
	if outcome.ExitCode == 0 {
		progress, errc := copyutil.Copy(tempDir, *appPath, []string{
			installer.DescriptorFileName,
			installer.SetupWASMFileName,
		}, 0o755)
		for range progress {
		}
		if copyErr := <-errc; copyErr != nil {
			return outcome.ExitCode, fmt.Errorf("installerpkg: copy payload: %w", copyErr)
		}
		os.RemoveAll(tempDir)
	}
	return outcome.ExitCode, nil
}

func verifyPackageSignature(packagePath, vendorPKIPath string, allowUnsigned bool) error {
	sigPath := packagePath + ".sig"
	sigBytes, err := os.ReadFile(sigPath)
	if err != nil {
		if allowUnsigned {
			return nil
		}
		return fmt.Errorf("%w: missing %s", ErrUntrustedPackage, sigPath)
	}
	sig, err := keysuite.UnmarshalPackageSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedPackage, err)
	}
	if sig.Signer.Domain != pkiDomain {
		return fmt.Errorf("%w: signer domain %q is not %q", ErrUntrustedPackage, sig.Signer.Domain, pkiDomain)
	}

	trust, err := keysuite.LoadTrustStore(vendorPKIPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedPackage, err)
	}

	archive, err := os.Open(packagePath)
	if err != nil {
		return fmt.Errorf("installerpkg: reopen package for verification: %w", err)
	}
	defer archive.Close()

	if err := keysuite.VerifyPackage(trust, packageSignaturePurpose, sig, archive); err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedPackage, err)
	}
	return nil
}
