package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/rowjay/drkit/internal/cryptoutil"
)

// EncryptConfigFile seals a plaintext config so it can live next to the
// compose stack and be loaded with DRKIT_CONFIG_KEY. The output is written
// through a temp file in the target directory and renamed into place.
func EncryptConfigFile(inputPath, outputPath, key string) error {
	if filepath.Clean(inputPath) == filepath.Clean(outputPath) {
		return errors.New("output must differ from input")
	}
	if !isEncryptedPath(outputPath) {
		return errors.New("output must end in .enc or .encrypted so Load can recognise it")
	}
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return err
	}
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	sealed, err := cryptoutil.EncryptConfig(plain, parsed)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".drkit-config-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), outputPath)
}
