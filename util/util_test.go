package util

import (
	"crypto/md5" // #nosec G501
	"database/sql/driver"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestNewFixedStringHash(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectedErr bool
	}{
		{name: "single string", args: []string{"port_scan"}},
		{name: "multiple strings", args: []string{"port_scan", "10.0.0.1", "1700000000"}},
		{name: "no arguments", args: nil, expectedErr: true},
		{name: "joined string is empty", args: []string{"", ""}, expectedErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewFixedStringHash(tt.args...)
			if tt.expectedErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			expected := md5.Sum([]byte(joinArgs(tt.args))) // #nosec G401
			require.Equal(t, expected, got.Data)
		})
	}
}

func joinArgs(args []string) string {
	var s string
	for _, a := range args {
		s += a
	}
	return s
}

func TestNewFixedStringHash_Deterministic(t *testing.T) {
	a, err := NewFixedStringHash("DDOS", "192.168.1.5", "60")
	require.NoError(t, err)
	b, err := NewFixedStringHash("DDOS", "192.168.1.5", "60")
	require.NoError(t, err)
	require.Equal(t, a.Hex(), b.Hex())
}

func TestFixedString_HexAndBinaryRoundTrip(t *testing.T) {
	fs, err := NewFixedStringHash("C2_BEACONING", "10.1.1.1")
	require.NoError(t, err)

	hexStr := fs.Hex()
	fromHex, err := NewFixedStringFromHex(hexStr)
	require.NoError(t, err)
	require.Equal(t, fs.Data, fromHex.Data)

	b, err := fs.MarshalBinary()
	require.NoError(t, err)
	var unmarshalled FixedString
	require.NoError(t, unmarshalled.UnmarshalBinary(b))
	require.Equal(t, fs.Data, unmarshalled.Data)

	val, err := fs.Value()
	require.NoError(t, err)
	_, ok := val.(driver.Value)
	require.True(t, ok)
}

func TestContainsIP(t *testing.T) {
	subnets, err := ParseSubnets([]string{"10.0.0.0/8", "203.0.113.5"})
	require.NoError(t, err)

	require.True(t, ContainsIP(subnets, net.ParseIP("10.1.2.3")))
	require.True(t, ContainsIP(subnets, net.ParseIP("203.0.113.5")))
	require.False(t, ContainsIP(subnets, net.ParseIP("8.8.8.8")))
}

func TestParseSubnets(t *testing.T) {
	subnets, err := ParseSubnets([]string{"192.168.0.0/16", "10.1.1.1", "not-an-ip"})
	require.Error(t, err)
	require.Nil(t, subnets)

	subnets, err = ParseSubnets([]string{"192.168.0.0/16", "10.1.1.1"})
	require.NoError(t, err)
	require.Len(t, subnets, 2)
}

func TestContainsDomain(t *testing.T) {
	domains := []string{"example.com", "*.mining-pool.net"}

	require.True(t, ContainsDomain(domains, "example.com"))
	require.True(t, ContainsDomain(domains, "pool1.mining-pool.net"))
	require.True(t, ContainsDomain(domains, "mining-pool.net"))
	require.False(t, ContainsDomain(domains, "evil.com"))
}

func TestUInt32sAreSortedAndSort(t *testing.T) {
	data := []uint32{5, 1, 3}
	require.False(t, UInt32sAreSorted(data))
	SortUInt32s(data)
	require.True(t, UInt32sAreSorted(data))
	require.Equal(t, []uint32{1, 3, 5}, data)
}

func TestValidateTimestamp(t *testing.T) {
	validTime := time.Unix(1700000000, 0)
	got, wasInvalid := ValidateTimestamp(validTime)
	require.False(t, wasInvalid)
	require.Equal(t, validTime, got)

	_, wasInvalid = ValidateTimestamp(time.Unix(-1, 0))
	require.True(t, wasInvalid)
}

func TestParseRelativePath(t *testing.T) {
	_, err := ParseRelativePath("")
	require.ErrorIs(t, err, ErrInvalidPath)

	abs, err := ParseRelativePath("/etc/flowguard/config.hjson")
	require.NoError(t, err)
	require.Equal(t, "/etc/flowguard/config.hjson", abs)
}

func TestValidateFile(t *testing.T) {
	afs := afero.NewMemMapFs()

	err := ValidateFile(afs, "/config.hjson")
	require.ErrorIs(t, err, ErrFileDoesNotExist)

	require.NoError(t, afero.WriteFile(afs, "/empty.hjson", []byte{}, 0644))
	require.ErrorIs(t, ValidateFile(afs, "/empty.hjson"), ErrFileIsEmtpy)

	require.NoError(t, afs.MkdirAll("/adir", 0755))
	require.ErrorIs(t, ValidateFile(afs, "/adir"), ErrPathIsDir)

	require.NoError(t, afero.WriteFile(afs, "/config.hjson", []byte("{}"), 0644))
	require.NoError(t, ValidateFile(afs, "/config.hjson"))
}

func TestGetFileContents(t *testing.T) {
	afs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(afs, "/config.hjson", []byte("detectors: {}"), 0644))

	contents, err := GetFileContents(afs, "/config.hjson")
	require.NoError(t, err)
	require.Equal(t, "detectors: {}", string(contents))

	_, err = GetFileContents(afs, "/missing.hjson")
	require.ErrorIs(t, err, ErrFileDoesNotExist)
}
