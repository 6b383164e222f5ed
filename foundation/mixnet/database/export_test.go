package database

// PutRawChannel stores a raw channel row under the key.
func (db *DB) PutRawChannel(key string, value []byte) error {
	return db.Update(func(tx *Tx) error {
		return tx.tx.Bucket(bucketChannels).Put([]byte(key), value)
	})
}
