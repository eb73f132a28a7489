package pipeline

import (
	"bytes"
	"encoding/binary"
)

// wavDataOffset 返回 RIFF/WAVE 数据中 data 块负载的起止位置。
// 不是 WAV 或找不到 data 块时 ok 为 false。
// 流式返回的 WAV 常把 data 长度写成占位值，超出实际长度时取到末尾。
func wavDataOffset(b []byte) (start, end int, ok bool) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return 0, 0, false
	}
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := uint64(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		rest := uint64(len(b) - body)
		if id == "data" {
			return body, body + int(min(size, rest)), true
		}
		if size+size%2 > rest {
			break
		}
		off = body + int(size+size%2)
	}
	return 0, 0, false
}

// joinAudio 按顺序拼接各句音频。
// 第一段是 WAV 时只保留它的文件头，后续 WAV 段只取 data 负载，
// 最后回填 data 和 RIFF 的长度字段。其他格式直接拼接。
func joinAudio(segments [][]byte) []byte {
	if len(segments) == 0 {
		return nil
	}
	start, end, ok := wavDataOffset(segments[0])
	if !ok {
		return bytes.Join(segments, nil)
	}

	var out bytes.Buffer
	out.Write(segments[0][:end])
	for _, seg := range segments[1:] {
		if s, e, ok := wavDataOffset(seg); ok {
			out.Write(seg[s:e])
			continue
		}
		out.Write(seg)
	}

	joined := out.Bytes()
	binary.LittleEndian.PutUint32(joined[start-4:start], uint32(len(joined)-start))
	binary.LittleEndian.PutUint32(joined[4:8], uint32(len(joined)-8))
	return joined
}
