package txlog

import "encoding/binary"

func encodeKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeKey(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf))
}

func encodeValue(rec Record) []byte {
	buf := make([]byte, 17)
	binary.BigEndian.PutUint64(buf[0:8], uint64(rec.TransactionID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(rec.CommitID))
	if rec.Reverted {
		buf[16] = 1
	}
	return buf
}

func decodeValue(key, val []byte) Record {
	return Record{
		TransactionID: decodeKey(key),
		CommitID:      int64(binary.BigEndian.Uint64(val[8:16])),
		Reverted:      val[16] != 0,
	}
}
