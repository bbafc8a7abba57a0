package idhash

import "hash/fnv"

// Bucket reduces (identity, salt) to a uniform value in [1, 100].
// Formula: FNV-1a(identity|salt) mod 100 + 1.
//
// The same inputs always map to the same bucket, which is what makes
// variant assignment reproducible across visits without storing anything.
func Bucket(identity, salt string) int {
	h := fnv.New64a()
	h.Write([]byte(identity))
	h.Write([]byte{'|'})
	h.Write([]byte(salt))
	return int(h.Sum64()%100) + 1
}
