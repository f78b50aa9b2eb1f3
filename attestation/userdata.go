package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// UserDataSize is the size of the report data field of an SGX report.
const UserDataSize = 64

// UserData is the value bound into the report data field of a quote.
type UserData [UserDataSize]byte

// NewUserData returns UserData holding raw, zero-padded to 64 bytes.
func NewUserData(raw []byte) (UserData, error) {
	if len(raw) == 0 {
		return UserData{}, Errorf(InvalidParameter, "user data is empty")
	}
	if len(raw) > UserDataSize {
		return UserData{}, Errorf(InvalidParameter, "user data must not be longer than %d bytes, received %d bytes", UserDataSize, len(raw))
	}
	var ud UserData
	copy(ud[:], raw)
	return ud, nil
}

// UserDataFromInfo binds an arbitrary-length info string.
// The first 32 bytes hold SHA-256(info), the rest is zero.
func UserDataFromInfo(info string) (UserData, error) {
	if info == "" {
		return UserData{}, Errorf(InvalidParameter, "user info is empty")
	}
	return digest(info), nil
}

// UserDataFromInfoAt binds an info string together with a Unix timestamp.
// The digest input is "<info>&time=<timestamp>".
func UserDataFromInfoAt(info string, timestamp uint64) (UserData, error) {
	if info == "" {
		return UserData{}, Errorf(InvalidParameter, "user info is empty")
	}
	return digest(info + "&time=" + strconv.FormatUint(timestamp, 10)), nil
}

// String returns the hex encoding of the user data.
func (u UserData) String() string {
	return hex.EncodeToString(u[:])
}

func digest(s string) UserData {
	var ud UserData
	sum := sha256.Sum256([]byte(s))
	copy(ud[:], sum[:])
	return ud
}
