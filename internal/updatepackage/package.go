// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package updatepackage implements the update-package model: JSON
// parsing and schema validation, the package UID, hardware/install-mode
// compatibility checks, and signature verification.
package updatepackage

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/xeipuuv/gojsonschema"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/activeinactive"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/object"
	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/safefile"
)

var (
	// ErrInvalidPackage is returned for malformed package JSON or schema
	// violations.
	ErrInvalidPackage = errors.New("invalid update package")
	// ErrInvalidSignature is returned when a present signature does not
	// verify against the package bytes.
	ErrInvalidSignature = errors.New("invalid package signature")
	// ErrSignatureNotFound is returned when a public key is configured but
	// no signature header/member was supplied.
	ErrSignatureNotFound = errors.New("signature required but not found")
)

// SupportedHardware is the untagged JSON sum `"any" | [string]`.
type SupportedHardware struct {
	Any  bool
	List []string
}

func (s *SupportedHardware) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != "any" {
			return fmt.Errorf("supported-hardware string value must be \"any\", got %q", asString)
		}
		s.Any = true
		return nil
	}

	var asList []string
	if err := json.Unmarshal(data, &asList); err != nil {
		return fmt.Errorf("supported-hardware must be \"any\" or a list of strings: %w", err)
	}
	s.List = asList
	return nil
}

func (s SupportedHardware) MarshalJSON() ([]byte, error) {
	if s.Any {
		return json.Marshal("any")
	}
	return json.Marshal(s.List)
}

// Compatible reports whether hw satisfies this compatibility constraint:
// true when the package supports any hardware or hw appears in the list.
func (s SupportedHardware) Compatible(hw string) bool {
	if s.Any {
		return true
	}
	for _, candidate := range s.List {
		if candidate == hw {
			return true
		}
	}
	return false
}

// wireFormat is the raw package JSON shape.
type wireFormat struct {
	Product           string            `json:"product"`
	Version           string            `json:"version"`
	SupportedHardware SupportedHardware `json:"supported-hardware"`
	Objects           [2]json.RawMessage `json:"objects"`
}

// Package is the parsed update-package model.
type Package struct {
	ProductUID        string
	Version           string
	SupportedHardware SupportedHardware
	Objects           [2][]object.Object // index 0 = slot A, index 1 = slot B
	Raw               []byte
}

// Parse validates raw against the bundled schema, then JSON-decodes it into
// a Package, retaining raw verbatim for PackageUID/signature purposes.
func Parse(raw []byte) (*Package, error) {
	schemaLoader := gojsonschema.NewStringLoader(packageSchema)
	docLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("%w: schema validation error: %v", ErrInvalidPackage, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, result.Errors())
	}

	var wire wireFormat
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}

	pkg := &Package{
		ProductUID:        wire.Product,
		Version:           wire.Version,
		SupportedHardware: wire.SupportedHardware,
		Raw:               append([]byte(nil), raw...),
	}

	for slot := 0; slot < 2; slot++ {
		objects, err := object.DecodeSlot(wire.Objects[slot])
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d: %v", ErrInvalidPackage, slot, err)
		}
		pkg.Objects[slot] = objects
	}

	return pkg, nil
}

// PackageUID is the lowercase-hex SHA-256 of the exact bytes received from
// the server, stable across transports.
func (p *Package) PackageUID() string {
	sum := sha256.Sum256(p.Raw)
	return hex.EncodeToString(sum[:])
}

// ObjectsForSlot returns the object list for an installation set.
func (p *Package) ObjectsForSlot(slot activeinactive.Set) []object.Object {
	return p.Objects[int(slot)]
}

// ValidateInstallModes checks every object in the given slot has a mode
// present in allowedModes.
func (p *Package) ValidateInstallModes(slot activeinactive.Set, allowedModes map[string]bool) error {
	for _, obj := range p.ObjectsForSlot(slot) {
		if !allowedModes[obj.Mode()] {
			return fmt.Errorf("install mode %q not accepted", obj.Mode())
		}
	}
	return nil
}

// FilterObjects returns references to objects in slot whose computed status
// equals want.
func FilterObjects(fs afero.Fs, downloadDir string, objects []object.Object, want object.Status) ([]object.Object, error) {
	var out []object.Object
	for _, obj := range objects {
		status, err := object.ComputeStatus(fs, downloadDir, obj)
		if err != nil {
			return nil, err
		}
		if status == want {
			out = append(out, obj)
		}
	}
	return out, nil
}

// ClearUnrelatedFiles is the download-directory cleanup: delete anything
// in dir that isn't a sha256sum in objects, delete stray metadata/signature
// files, and delete any Corrupted object (so it becomes Missing on the next
// status probe).
func ClearUnrelatedFiles(fs afero.Fs, dir string, objects []object.Object) error {
	wanted := map[string]bool{}
	for _, obj := range objects {
		wanted[obj.SHA256Sum()] = true
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing download directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		if name == "metadata" || name == "signature" {
			if err := fs.Remove(filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("removing stray %s: %w", name, err)
			}
			continue
		}

		if !wanted[name] {
			if err := fs.Remove(filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("removing unrelated file %s: %w", name, err)
			}
		}
	}

	for _, obj := range objects {
		status, err := object.ComputeStatus(fs, dir, obj)
		if err != nil {
			return err
		}
		if status == object.Corrupted {
			if err := fs.Remove(filepath.Join(dir, obj.SHA256Sum())); err != nil {
				return fmt.Errorf("removing corrupted object %s: %w", obj.SHA256Sum(), err)
			}
		}
	}

	return nil
}

// Signature is a decoded base64-RSA signature over a Package's raw bytes.
type Signature struct {
	Bytes []byte
}

// ParseSignature base64-decodes header. An empty header produces an empty,
// non-error Signature: some server toolchains emit the header with no
// value, and that must not fail the probe.
func ParseSignature(header string) (Signature, error) {
	if header == "" {
		return Signature{}, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return Signature{}, fmt.Errorf("decoding signature header: %w", err)
	}
	return Signature{Bytes: decoded}, nil
}

// Validate verifies sig against pkg.Raw using the RSA public key at
// pubKeyPath (PEM-encoded). An empty pubKeyPath skips verification.
func (s Signature) Validate(pubKeyPath string, pkg *Package) error {
	if pubKeyPath == "" {
		return nil
	}
	if len(s.Bytes) == 0 {
		return ErrSignatureNotFound
	}

	// The key path is operator-configured and lives outside the agent's
	// exclusively-owned directories, so the read refuses symlinks and
	// hardlinks.
	keyData, err := safefile.ReadFileNoLinks(pubKeyPath)
	if err != nil {
		return fmt.Errorf("reading public key %s: %w", pubKeyPath, err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return fmt.Errorf("public key %s is not valid PEM", pubKeyPath)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parsing public key %s: %w", pubKeyPath, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("public key %s is not an RSA key", pubKeyPath)
	}

	digest := sha256.Sum256(pkg.Raw)
	if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], s.Bytes); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Sign is a test/tooling helper producing a signature over raw with priv,
// mirroring the server side of the RSA-SHA256 scheme.
func Sign(priv *rsa.PrivateKey, raw []byte) ([]byte, error) {
	digest := sha256.Sum256(raw)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
}
