package command

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// SubmissionFingerprint derives the key under which a processed submission is
// remembered on the account. Raw submission ids never reach storage.
func SubmissionFingerprint(playerID, submissionID string) string {
	sum := blake2b.Sum256([]byte(playerID + "\x00" + submissionID))
	return hex.EncodeToString(sum[:16])
}
