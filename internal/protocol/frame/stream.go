package frame

import "sync/atomic"

// StreamDecoder 处理串口流上的半包/粘包与失步恢复。
// Feed/Reset 限单协程调用，Resyncs 可被其他协程并发读取
type StreamDecoder struct {
	buf     []byte
	maxBuf  int // 保护上限，避免畸形数据占用过多内存
	resyncs atomic.Uint64
}

// NewStreamDecoder 创建流式解码器
func NewStreamDecoder(maxBuf int) *StreamDecoder {
	if maxBuf <= 0 {
		maxBuf = 4 * MaxSize
	}
	return &StreamDecoder{maxBuf: maxBuf}
}

// Feed 追加数据并尽可能解出多帧。
// CRC 失败或长度异常时向后滑动一个字节重新寻找同步，不丢弃后续完好的帧。
func (d *StreamDecoder) Feed(p []byte) []*Frame {
	if len(p) == 0 {
		return nil
	}
	d.buf = append(d.buf, p...)
	var frames []*Frame

	for {
		// 寻找同步字节
		start := indexSync(d.buf)
		if start < 0 {
			d.buf = d.buf[:0]
			return frames
		}
		if start > 0 {
			// 丢弃无效前缀
			d.buf = d.buf[start:]
		}
		if len(d.buf) < HeaderSize {
			break
		}
		dataLen := int(d.buf[7])
		if dataLen > MaxDataLen {
			// 长度字段异常，滑动 1 字节重新同步
			d.buf = d.buf[1:]
			d.resyncs.Add(1)
			continue
		}
		total := HeaderSize + dataLen + CRCSize
		if len(d.buf) < total {
			// 半包，等待更多
			break
		}
		fr, err := Decode(d.buf[:total])
		if err != nil {
			d.buf = d.buf[1:]
			d.resyncs.Add(1)
			continue
		}
		frames = append(frames, fr)
		d.buf = d.buf[total:]
		if len(d.buf) == 0 {
			d.buf = nil
			return frames
		}
	}

	if len(d.buf) > d.maxBuf {
		// 长时间无法成帧，保留尾部一帧的量
		d.buf = append([]byte(nil), d.buf[len(d.buf)-MaxSize:]...)
	}
	return frames
}

// Reset 清空内部缓冲
func (d *StreamDecoder) Reset() {
	d.buf = nil
}

// Pending 返回缓冲中尚未消费的字节数
func (d *StreamDecoder) Pending() int {
	return len(d.buf)
}

// Resyncs 返回累计的失步恢复次数（长度异常或校验失败引起的滑动）
func (d *StreamDecoder) Resyncs() uint64 {
	return d.resyncs.Load()
}

func indexSync(b []byte) int {
	for i := 0; i < len(b); i++ {
		if b[i] == SyncByte {
			return i
		}
	}
	return -1
}
