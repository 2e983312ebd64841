package cryptoutil

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/minio/sio"
)

const (
	configMagic = "DRK1"
	configVer   = uint16(2)
	headerLen   = len(configMagic) + 2
)

// EncryptConfig seals a config payload in the DARE format behind a small header.
func EncryptConfig(plain []byte, key []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(configMagic)
	if err := binary.Write(buf, binary.BigEndian, configVer); err != nil {
		return nil, err
	}
	if _, err := sio.Encrypt(buf, bytes.NewReader(plain), sio.Config{Key: key}); err != nil {
		return nil, fmt.Errorf("encrypt config: %w", err)
	}
	return buf.Bytes(), nil
}

// DecryptConfig opens a payload produced by EncryptConfig.
func DecryptConfig(ciphertext []byte, key []byte) ([]byte, error) {
	if len(ciphertext) <= headerLen {
		return nil, fmt.Errorf("config cipher too short")
	}
	if string(ciphertext[:len(configMagic)]) != configMagic {
		return nil, fmt.Errorf("invalid config header")
	}
	if ver := binary.BigEndian.Uint16(ciphertext[len(configMagic):headerLen]); ver != configVer {
		return nil, fmt.Errorf("unsupported config version %d", ver)
	}
	out := &bytes.Buffer{}
	if _, err := sio.Decrypt(out, bytes.NewReader(ciphertext[headerLen:]), sio.Config{Key: key}); err != nil {
		return nil, fmt.Errorf("decrypt config: %w", err)
	}
	return out.Bytes(), nil
}
