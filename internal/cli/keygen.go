package cli

import (
	"encoding/hex"

	"github.com/spf13/cobra"

	"github.com/roach88/flowstore/internal/blob"
)

// KeygenResult is the output of the keygen command.
type KeygenResult struct {
	KeyHex string `json:"key_hex"`
}

func (r KeygenResult) String() string {
	return r.KeyHex
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a blob integrity key",
		Long: `Print a new random 32-byte HMAC key, hex encoded, for
integrity.key_hex or a key file.

Examples:
  flowstore keygen > flowstore.key`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := blob.GenerateKey()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to generate key", err)
			}
			return rootOpts.formatter(cmd).Success(KeygenResult{KeyHex: hex.EncodeToString(key)})
		},
	}
}
