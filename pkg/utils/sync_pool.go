// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"
)

var (
	sha256Pool = sync.Pool{
		New: func() any {
			return sha256.New()
		},
	}
	crc64nvmePool = sync.Pool{
		New: func() any {
			return crc64nvme.New()
		},
	}
	md5Pool = sync.Pool{
		New: func() any {
			return md5.New()
		},
	}
)

func Sha256PoolGetHasher() hash.Hash {
	return sha256Pool.Get().(hash.Hash)
}

func Sha256PoolPutHasher(h hash.Hash) {
	h.Reset()
	sha256Pool.Put(h)
}

func Crc64nvmePoolGetHasher() hash.Hash64 {
	return crc64nvmePool.Get().(hash.Hash64)
}

func Crc64nvmePoolPutHasher(h hash.Hash64) {
	h.Reset()
	crc64nvmePool.Put(h)
}

func Md5PoolGetHasher() hash.Hash {
	return md5Pool.Get().(hash.Hash)
}

func Md5PoolPutHasher(h hash.Hash) {
	h.Reset()
	md5Pool.Put(h)
}

// Digest holds the checksums computed in one pass over a payload.
type Digest struct {
	Size      int64
	SHA256Hex string
	MD5Hex    string
	CRC64NVME string // base64 of the big-endian sum, as S3 expects in headers
}

// DigestReader reads r to EOF computing SHA-256, MD5 and CRC-64/NVME.
func DigestReader(r io.Reader) (Digest, error) {
	sh := Sha256PoolGetHasher()
	defer Sha256PoolPutHasher(sh)
	mh := Md5PoolGetHasher()
	defer Md5PoolPutHasher(mh)
	ch := Crc64nvmePoolGetHasher()
	defer Crc64nvmePoolPutHasher(ch)

	n, err := io.Copy(io.MultiWriter(sh, mh, ch), r)
	if err != nil {
		return Digest{}, err
	}
	var crc [8]byte
	binary.BigEndian.PutUint64(crc[:], ch.Sum64())
	return Digest{
		Size:      n,
		SHA256Hex: hex.EncodeToString(sh.Sum(nil)),
		MD5Hex:    hex.EncodeToString(mh.Sum(nil)),
		CRC64NVME: base64.StdEncoding.EncodeToString(crc[:]),
	}, nil
}
