package util

import (
	"crypto/md5" // #nosec
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrInvalidPath = errors.New("path cannot be empty string")

	ErrFileDoesNotExist = errors.New("file does not exist")
	ErrFileIsEmtpy      = errors.New("file is empty")
	ErrPathIsDir        = errors.New("given path is a directory, not a file")

	ErrDirDoesNotExist = errors.New("directory does not exist")
	ErrDirIsEmpty      = errors.New("directory is empty")
	ErrPathIsNotDir    = errors.New("given path is not a directory")
)

// FixedString is a 16-byte MD5 digest used as a deterministic identifier.
// Hashing the same inputs always yields the same FixedString, so re-running
// a batch through an unchanged configuration reproduces identical
// anomaly/group/finding identifiers.
type FixedString struct {
	val  string
	Data [16]byte
}

// NewFixedStringHash creates a FixedString from a hash of all the passed in strings
func NewFixedStringHash(args ...string) (FixedString, error) {
	if len(args) == 0 {
		return FixedString{}, errors.New("no arguments provided")
	}

	joined := strings.Join(args, "")
	if joined == "" {
		return FixedString{}, errors.New("joined string is empty")
	}

	// #nosec
	hash := md5.Sum([]byte(joined))

	return FixedString{Data: hash}, nil
}

// NewFixedStringFromHex creates a FixedString from a passed in hex string
func NewFixedStringFromHex(h string) (FixedString, error) {
	if h == "" {
		return FixedString{}, errors.New("hex string is empty")
	}

	data, err := hex.DecodeString(h)
	if err != nil {
		return FixedString{}, fmt.Errorf("error decoding hex string: %w", err)
	}
	var fixed [16]byte
	copy(fixed[:], data)
	return FixedString{Data: fixed}, nil
}

func (bin *FixedString) Hex() string {
	return strings.ToUpper(hex.EncodeToString(bin.Data[:]))
}

// Returns expected type for writing to the database
func (bin FixedString) MarshalBinary() ([]byte, error) {
	return bin.Data[:], nil
}

// Returns expected type for reading from the database
func (bin *FixedString) UnmarshalBinary(b []byte) error {
	copy(bin.Data[:], b)
	return nil
}

// Returns value of FixedString as a pointer, used when sometimes writing to database
func (bin FixedString) Value() (driver.Value, error) {
	return &bin.val, nil
}

// ContainsIP checks if a collection of subnets contains an IP
func ContainsIP(subnets []Subnet, ip net.IP) bool {
	// cache IPv4 conversion so it's not performed in every Contains call
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}

	for _, block := range subnets {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseSubnets parses the provided subnets into Subnet format
func ParseSubnets(subnets []string) ([]Subnet, error) {
	var parsedSubnets []Subnet

	for _, entry := range subnets {
		_, block, err := net.ParseCIDR(entry)

		if err != nil {
			ipAddr := net.ParseIP(entry)
			if ipAddr == nil {
				return nil, fmt.Errorf("error parsing entry: %s", err.Error())
			}

			var subnetMask string
			if ipAddr.To4() != nil {
				subnetMask = "/32"
			} else {
				subnetMask = "/128"
			}

			_, block, err = net.ParseCIDR(entry + subnetMask)
			if err != nil {
				return nil, fmt.Errorf("error parsing entry: %s", err.Error())
			}
		}

		parsedSubnets = append(parsedSubnets, Subnet{block})
	}
	return parsedSubnets, nil
}

// ContainsDomain checks if a given host is in a list of domains, honoring "*.example.com" wildcards.
func ContainsDomain(domains []string, host string) bool {
	for _, entry := range domains {
		if strings.Contains(entry, "*") {
			wildcardDomain := strings.TrimPrefix(entry, "*")
			if strings.HasSuffix(host, wildcardDomain) {
				return true
			}
			wildcardDomain = strings.TrimPrefix(wildcardDomain, ".")
			if host == wildcardDomain {
				return true
			}
		} else if host == entry {
			return true
		}
	}
	return false
}

// UInt32sAreSorted returns true if a slice of uint32 is sorted in ascending order
func UInt32sAreSorted(data []uint32) bool {
	return sort.SliceIsSorted(data, func(i, j int) bool { return data[i] < data[j] })
}

// SortUInt32s sorts a slice of uint32 in ascending order
func SortUInt32s(data []uint32) {
	sort.Slice(data, func(i, j int) bool { return data[i] < data[j] })
}

func ValidateTimestamp(timestamp time.Time) (time.Time, bool) {
	if timestamp.UTC().Unix() > 0 && timestamp.UTC().Unix() < math.MaxInt64 {
		return timestamp, false
	}
	return time.Unix(0, 1), true
}

// ParseRelativePath parses a given directory path and returns the absolute path
func ParseRelativePath(dir string) (string, error) {
	if dir == "" {
		return "", ErrInvalidPath
	}

	switch {
	case dir[:2] == "~/":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, dir[2:]), nil
	case strings.HasPrefix(dir, "."):
		currentDir, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(currentDir, dir), nil
	default:
		return dir, nil
	}
}

// ValidateFile returns an error if the file does not exist, is a directory, or is empty
func ValidateFile(afs afero.Fs, file string) error {
	exists, isDir, isEmpty, err := validatePath(afs, file)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrFileDoesNotExist, file)
	}
	if isDir {
		return fmt.Errorf("%w: %s", ErrPathIsDir, file)
	}
	if isEmpty {
		return fmt.Errorf("%w: %s", ErrFileIsEmtpy, file)
	}

	return nil
}

// GetFileContents reads and returns the full contents of a file on the given filesystem,
// after running it through the same existence/empty/directory checks as ValidateFile.
func GetFileContents(afs afero.Fs, path string) ([]byte, error) {
	if err := ValidateFile(afs, path); err != nil {
		return nil, err
	}

	contents, err := afero.ReadFile(afs, path)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	return contents, nil
}

// validatePath validates a given path
func validatePath(afs afero.Fs, path string) (bool, bool, bool, error) {
	var exists, isDir, isEmpty bool

	if afs == nil {
		return exists, isDir, isEmpty, fmt.Errorf("filesystem is nil")
	}
	if path == "" {
		return exists, isDir, isEmpty, ErrInvalidPath
	}

	exists, err := afero.Exists(afs, path)
	if err != nil {
		return exists, isDir, isEmpty, err
	}

	if exists {
		isDir, err = afero.IsDir(afs, path)
		if err != nil {
			return exists, isDir, isEmpty, err
		}

		isEmpty, err = afero.IsEmpty(afs, path)
		if err != nil {
			return exists, isDir, isEmpty, err
		}
	}

	return exists, isDir, isEmpty, nil
}
