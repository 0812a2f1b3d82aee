package diyredis

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/flonle/diyredis/app/diyredis/crc64"
	"github.com/flonle/diyredis/app/diyredis/keyspace"
	"github.com/flonle/diyredis/app/diyredis/logging"
	lzf "github.com/zhuyie/golzf"
)

const (
	opCodeModuleAux    byte = 247 // Module auxiliary data
	opCodeIdle         byte = 248 // LRU idle time
	opCodeFreq         byte = 249 // LFU frequency
	opCodeAux          byte = 250 // Auxiliary field
	opCodeResizeDB     byte = 251 // Hash table resize hint
	opCodeExpireTimeMs byte = 252 // Expire time in milliseconds
	opCodeExpireTimeS  byte = 253 // Expiry time in seconds
	opCodeSelectDB     byte = 254 // DB number of the following keys
	opCodeEOF          byte = 255 // EOF
)

const (
	stringEnc byte = 0 // String encoding; the only value type this loader supports
)

// Special Format Object
const (
	redisInt8          int = 0
	redisInt16         int = 1
	redisInt32         int = 2
	redisCompressedStr int = 3
)

// ErrRDBLoad wraps any failure while reading a malformed or truncated
// snapshot. Per the spec this is fatal at startup.
var ErrRDBLoad = errors.New("RDBLoadError")

// LoadRdb reads the configured RDB file, if any, merging it into ks.
// An absent file yields an empty mapping, not an error.
func (s *Server) LoadRdb(ks *keyspace.Keyspace) error {
	if s.RdbDir == "" || s.RdbFilename == "" {
		return nil
	}

	filename := s.RdbDir + "/" + s.RdbFilename
	logging.Log.Info().Str("file", filename).Msg("loading RDB file")

	if err := rdbPreFlight(filename); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wrapRDBErr(err)
	}

	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wrapRDBErr(err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if _, err := reader.Discard(5); err != nil { // magic already checked by rdbPreFlight
		return wrapRDBErr(err)
	}

	versionNr := make([]byte, 4)
	if _, err := io.ReadFull(reader, versionNr); err != nil {
		return wrapRDBErr(err)
	}

	if err := parseAuxFields(reader); err != nil {
		return wrapRDBErr(err)
	}

	if err := loadDatabase(reader, ks); err != nil {
		return wrapRDBErr(err)
	}

	return nil
}

// LoadRdbBytes parses an in-memory RDB payload — the bulk blob a
// replica receives during the PSYNC handshake — the same format
// LoadRdb reads from disk, magic header included.
func LoadRdbBytes(data []byte, ks *keyspace.Keyspace) error {
	if len(data) < 9 || string(data[:5]) != "REDIS" {
		return errors.New("not a Redis RDB payload")
	}
	reader := bufio.NewReader(bytes.NewReader(data[9:]))
	if err := parseAuxFields(reader); err != nil {
		return wrapRDBErr(err)
	}
	if err := loadDatabase(reader, ks); err != nil {
		return wrapRDBErr(err)
	}
	return nil
}

func wrapRDBErr(cause error) error {
	return errors.New(ErrRDBLoad.Error() + ": " + cause.Error())
}

// rdbPreFlight sanity-checks the magic header and, when present, the
// trailing CRC64 checksum.
func rdbPreFlight(fn string) error {
	f, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 4096)
	lastBytesRead, err := f.Read(buf)
	if err != nil {
		return err
	}

	for i, r := range []byte("REDIS") {
		if buf[i] != r {
			return errors.New("not a Redis RDB file")
		}
	}

	hash := crc64.New()
	if _, err := hash.Write(buf[:lastBytesRead-8]); err != nil {
		return err
	}
	for {
		bytesRead, err := f.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if _, err := hash.Write(buf[:bytesRead]); err != nil {
			return err
		}
		lastBytesRead = bytesRead
	}

	// Pre-v5 RDB files carry no checksum; an all-zero trailer means "not present".
	reportedCRC := binary.LittleEndian.Uint64(buf[lastBytesRead-8 : lastBytesRead])
	if reportedCRC == 0 {
		logging.Log.Debug().Msg("skipping CRC validation: checksum not present in RDB file")
		return nil
	}

	if hash.Sum64() != reportedCRC {
		return errors.New("CRC checksum incorrect")
	}
	return nil
}

// parseAuxFields consumes the auxiliary field list preceding the first
// database selector; their contents aren't surfaced anywhere.
func parseAuxFields(r *bufio.Reader) error {
	for {
		opCode, err := r.ReadByte()
		if err != nil {
			return err
		}

		if opCode == opCodeAux {
			if _, _, _, err := readStringEnc(r); err != nil {
				return err
			}
			if _, _, _, err := readStringEnc(r); err != nil {
				return err
			}
			continue
		}
		return r.UnreadByte()
	}
}

// loadDatabase reads database-selector/resize-hint/entry opcodes until
// EOF, merging every decoded key into ks. Only DB 0 is modeled; a
// selector naming any other database is an error per the spec's
// single-database scope.
func loadDatabase(r *bufio.Reader, ks *keyspace.Keyspace) error {
	for {
		opCode, err := r.ReadByte()
		if err != nil {
			return err
		}

		switch opCode {
		case opCodeEOF:
			return nil

		case opCodeSelectDB:
			dbid, specialfmt, err := readLengthEnc(r)
			if err != nil {
				return err
			}
			if specialfmt {
				return errors.New("wrong select db encoding found")
			}
			if dbid != 0 {
				return errors.New("rdb file selects a database other than 0")
			}

		case opCodeResizeDB:
			if _, specialfmt, err := readLengthEnc(r); err != nil || specialfmt {
				if err != nil {
					return err
				}
				return errors.New("wrong resize db encoding found")
			}
			if _, specialfmt, err := readLengthEnc(r); err != nil || specialfmt {
				if err != nil {
					return err
				}
				return errors.New("wrong resize db encoding found")
			}

		case opCodeExpireTimeS:
			buf := make([]byte, 4)
			if _, err := io.ReadFull(r, buf); err != nil {
				return err
			}
			expiryMs := int64(binary.LittleEndian.Uint32(buf)) * 1000
			if err := loadKeyVal(r, ks, expiryMs); err != nil {
				return err
			}

		case opCodeExpireTimeMs:
			buf := make([]byte, 8)
			if _, err := io.ReadFull(r, buf); err != nil {
				return err
			}
			expiryMs := int64(binary.LittleEndian.Uint64(buf))
			if err := loadKeyVal(r, ks, expiryMs); err != nil {
				return err
			}

		default:
			if err := r.UnreadByte(); err != nil {
				return err
			}
			if err := loadKeyVal(r, ks, 0); err != nil {
				return err
			}
		}
	}
}

func loadKeyVal(r *bufio.Reader, ks *keyspace.Keyspace, expiryMs int64) error {
	valueType, err := r.ReadByte()
	if err != nil {
		return err
	}
	if valueType != stringEnc {
		return errors.New("value type encoding not yet implemented")
	}

	key, err := readStringEncAsString(r)
	if err != nil {
		return err
	}
	val, err := readStringEncAsString(r)
	if err != nil {
		return err
	}

	ks.LoadRaw(key, keyspace.Value{Kind: keyspace.KindString, Str: val}, expiryMs)
	return nil
}

// readStringEncAsString reads one string-encoded value and renders it as
// text whether it came from a raw byte sequence or an integer special
// encoding.
func readStringEncAsString(r *bufio.Reader) (string, error) {
	str, isInt, intVal, err := readStringEnc(r)
	if err != nil {
		return "", err
	}
	if isInt {
		return strconv.FormatInt(intVal, 10), nil
	}
	return str, nil
}

// readStringEnc returns either a raw string (isInt == false) or an
// integer special encoding (isInt == true, value in intVal).
func readStringEnc(r *bufio.Reader) (str string, isInt bool, intVal int64, err error) {
	length, specialfmt, err := readLengthEnc(r)
	if err != nil {
		return "", false, 0, err
	}

	if specialfmt {
		switch length {
		case redisInt8:
			val, err := r.ReadByte()
			if err != nil {
				return "", false, 0, err
			}
			return "", true, int64(int8(val)), nil

		case redisInt16:
			buf := make([]byte, 2)
			if _, err := io.ReadFull(r, buf); err != nil {
				return "", false, 0, err
			}
			return "", true, int64(int16(binary.LittleEndian.Uint16(buf))), nil

		case redisInt32:
			buf := make([]byte, 4)
			if _, err := io.ReadFull(r, buf); err != nil {
				return "", false, 0, err
			}
			return "", true, int64(int32(binary.LittleEndian.Uint32(buf))), nil

		case redisCompressedStr:
			res, err := readCompressedStr(r)
			if err != nil {
				return "", false, 0, err
			}
			return res, false, 0, nil

		default:
			return "", false, 0, errors.New("unsupported special string encoding")
		}
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", false, 0, err
	}
	return string(buf), false, 0, nil
}

func readCompressedStr(r *bufio.Reader) (string, error) {
	compressedLen, specialfmt, err := readLengthEnc(r)
	if specialfmt || err != nil {
		return "", errors.New("invalid compressed string encoding")
	}
	uncompressedLen, specialfmt, err := readLengthEnc(r)
	if specialfmt || err != nil {
		return "", errors.New("invalid compressed string encoding")
	}

	buf := make([]byte, compressedLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	outputBuf := make([]byte, uncompressedLen)
	if _, err := lzf.Decompress(buf, outputBuf); err != nil {
		return "", err
	}
	return string(outputBuf), nil
}

// DumpRDB serializes every live string key in ks into an RDB payload
// suitable for the PSYNC full-resync transfer: magic, a single
// database selector, one entry per string key (with an expiry opcode
// when set), EOF, and a trailing CRC64 checksum. Stream keys are not
// part of this RDB subset and are omitted, matching the loader.
func DumpRDB(ks *keyspace.Keyspace) []byte {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opCodeSelectDB)
	writeLengthEnc(&buf, 0)

	for _, e := range ks.SnapshotStrings() {
		if e.ExpiryMs != 0 {
			buf.WriteByte(opCodeExpireTimeMs)
			var ts [8]byte
			binary.LittleEndian.PutUint64(ts[:], uint64(e.ExpiryMs))
			buf.Write(ts[:])
		}
		buf.WriteByte(stringEnc)
		writeStringEnc(&buf, e.Key)
		writeStringEnc(&buf, e.Val)
	}

	buf.WriteByte(opCodeEOF)

	hash := crc64.New()
	hash.Write(buf.Bytes())
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], hash.Sum64())
	buf.Write(sum[:])

	return buf.Bytes()
}

func writeLengthEnc(buf *bytes.Buffer, n int) {
	switch {
	case n < 1<<6:
		buf.WriteByte(byte(n))
	case n < 1<<14:
		buf.WriteByte(0x40 | byte(n>>8))
		buf.WriteByte(byte(n))
	default:
		buf.WriteByte(0x80)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	}
}

func writeStringEnc(buf *bytes.Buffer, s string) {
	writeLengthEnc(buf, len(s))
	buf.WriteString(s)
}

// readLengthEnc parses Redis' length encoding, returning either the
// length or the 'special format' selector of the next object when the
// returned bool is true.
func readLengthEnc(r *bufio.Reader) (int, bool, error) {
	firstByte, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}

	switch msb := firstByte >> 6; msb {
	case 0: // 6 bits in this byte
		return int(firstByte & 0x3F), false, nil

	case 1: // 6 bits in this byte + next byte, big-endian 14-bit total
		nextByte, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		length := (int(firstByte&0x3F) << 8) | int(nextByte)
		return length, false, nil

	case 2: // discard remaining bits of this byte, read next 4 bytes big-endian
		lenbuf := make([]byte, 4)
		if _, err := io.ReadFull(r, lenbuf); err != nil {
			return 0, false, err
		}
		length := binary.BigEndian.Uint32(lenbuf)
		return int(length), false, nil

	case 3: // special format
		return int(firstByte & 0x3F), true, nil
	}

	return 0, false, errors.New("invalid string encoding found")
}
