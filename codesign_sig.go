package macho

import (
	"crypto/sha256"
	"encoding/binary"
)

// Ad-hoc code signature layout: SuperBlob + one CodeDirectory blob,
// adapted from the teacher's generateCodeSignature (macho.go) to the
// incremental writer's reserve-then-fill model: codeSignaturePaddingSize
// sizes the reserved __LINKEDIT region before the final file length is
// known, and writeCodeSignature fills it once every other byte of the
// file is final.

const (
	superBlobHeaderSize    = 12 // magic, length, count
	blobIndexSize          = 8  // type, offset
	codeDirectoryFixedSize = 88 // up to and including ExecSegFlags
)

// codeSignaturePaddingSize estimates the signature blob size from the
// eventual file length (without the signature itself) and the path the
// binary will be installed at, which only affects the identifier string.
func codeSignaturePaddingSize(estimatedFileLen uint64, identifier string) uint64 {
	nPages := (estimatedFileLen + csPageSize - 1) / csPageSize
	if nPages == 0 {
		nPages = 1
	}
	identSize := uint64(len(identifier) + 1)
	cdLen := uint64(codeDirectoryFixedSize) + identSize + nPages*32
	total := uint64(superBlobHeaderSize+blobIndexSize) + cdLen
	return alignUp(total, 16)
}

// writeCodeSignature hashes every page of the file up to dataOff and
// writes the ad-hoc CodeDirectory + SuperBlob into the reserved region
// [dataOff, dataOff+dataSize).
func (img *Image) writeCodeSignature(identifier string, dataOff, dataSize uint64) *LinkError {
	signed := make([]byte, dataOff)
	if err := img.pread(signed, 0); err != nil {
		return newFatal(CategoryIO, "read file for signing: %v", err)
	}

	nPages := (dataOff + csPageSize - 1) / csPageSize
	if nPages == 0 {
		nPages = 1
	}
	identBytes := append([]byte(identifier), 0)

	cdLen := uint64(codeDirectoryFixedSize) + uint64(len(identBytes)) + nPages*32
	sbLen := uint64(superBlobHeaderSize+blobIndexSize) + cdLen

	buf := make([]byte, 0, sbLen)
	buf = appendBE32(buf, csMagicEmbeddedSignature)
	buf = appendBE32(buf, uint32(sbLen))
	buf = appendBE32(buf, 1)

	cdOffset := uint32(superBlobHeaderSize + blobIndexSize)
	buf = appendBE32(buf, 0) // CSSLOT_CODEDIRECTORY
	buf = appendBE32(buf, cdOffset)

	hashOff := uint32(codeDirectoryFixedSize) + uint32(len(identBytes))
	buf = appendBE32(buf, csMagicCodeDirectory)
	buf = appendBE32(buf, uint32(cdLen))
	buf = appendBE32(buf, 0x20400)
	buf = appendBE32(buf, csAdhoc)
	buf = appendBE32(buf, hashOff)
	buf = appendBE32(buf, uint32(codeDirectoryFixedSize))
	buf = appendBE32(buf, 0)
	buf = appendBE32(buf, uint32(nPages))
	buf = appendBE32(buf, uint32(dataOff))
	buf = append(buf, 32, csHashTypeSHA256, 0, csPageSizeLog2)
	buf = appendBE32(buf, 0)
	buf = appendBE32(buf, 0)
	buf = appendBE32(buf, 0)
	buf = appendBE32(buf, 0)
	buf = appendBE64(buf, dataOff)
	buf = appendBE64(buf, 0)
	buf = appendBE64(buf, dataOff)
	buf = appendBE64(buf, csExecsegMainBinary)
	buf = append(buf, identBytes...)

	for i := uint64(0); i < nPages; i++ {
		start := i * csPageSize
		end := start + csPageSize
		if end > dataOff {
			end = dataOff
		}
		h := sha256.Sum256(signed[start:end])
		buf = append(buf, h[:]...)
	}

	if uint64(len(buf)) > dataSize {
		return ErrNotEnoughPadding
	}
	return img.pwriteAll(buf, int64(dataOff))
}

func appendBE32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendBE64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
