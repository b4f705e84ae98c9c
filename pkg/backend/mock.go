package backend

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/iio-remote/iiod-go/pkg/model"
)

// MockBackend is a testify mock of Backend for tests that need to inject
// backend failures.
type MockBackend struct{ mock.Mock }

var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) Context() *model.Context {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).(*model.Context)
}

func (m *MockBackend) ReadAttr(ref model.AttrRef) ([]byte, error) {
	ret := m.Called(ref)
	var b []byte
	if ret.Get(0) != nil {
		b = ret.Get(0).([]byte)
	}
	return b, ret.Error(1)
}

func (m *MockBackend) WriteAttr(ref model.AttrRef, value []byte) (int, error) {
	ret := m.Called(ref, value)
	return ret.Int(0), ret.Error(1)
}

func (m *MockBackend) GetTrigger(dev int) (int, error) {
	ret := m.Called(dev)
	return ret.Int(0), ret.Error(1)
}

func (m *MockBackend) SetTrigger(dev, trig int) error   { return m.Called(dev, trig).Error(0) }
func (m *MockBackend) SetTimeout(d time.Duration) error { return m.Called(d).Error(0) }

func (m *MockBackend) CreateBuffer(dev, idx int, mask *model.ChannelMask) (Buffer, error) {
	ret := m.Called(dev, idx, mask)
	var b Buffer
	if ret.Get(0) != nil {
		b = ret.Get(0).(Buffer)
	}
	return b, ret.Error(1)
}

func (m *MockBackend) OpenEventStream(dev int) (EventStream, error) {
	ret := m.Called(dev)
	var es EventStream
	if ret.Get(0) != nil {
		es = ret.Get(0).(EventStream)
	}
	return es, ret.Error(1)
}

func (m *MockBackend) Close() error { return m.Called().Error(0) }

// MockBuffer is a testify mock of Buffer.
type MockBuffer struct{ mock.Mock }

var _ Buffer = (*MockBuffer)(nil)

func (m *MockBuffer) Mask() *model.ChannelMask {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).(*model.ChannelMask)
}

func (m *MockBuffer) Enable() error  { return m.Called().Error(0) }
func (m *MockBuffer) Disable() error { return m.Called().Error(0) }
func (m *MockBuffer) Cancel()        { m.Called() }
func (m *MockBuffer) Close() error   { return m.Called().Error(0) }

func (m *MockBuffer) CreateBlock(size int) (Block, error) {
	ret := m.Called(size)
	var b Block
	if ret.Get(0) != nil {
		b = ret.Get(0).(Block)
	}
	return b, ret.Error(1)
}

// MockBlock is a testify mock of Block.
type MockBlock struct{ mock.Mock }

var _ Block = (*MockBlock)(nil)

func (m *MockBlock) Data() []byte {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).([]byte)
}

func (m *MockBlock) Enqueue(bytesUsed int, cyclic bool) error {
	return m.Called(bytesUsed, cyclic).Error(0)
}

func (m *MockBlock) Dequeue(nonblock bool) error { return m.Called(nonblock).Error(0) }
func (m *MockBlock) Close() error                { return m.Called().Error(0) }

// MockEventStream is a testify mock of EventStream.
type MockEventStream struct{ mock.Mock }

var _ EventStream = (*MockEventStream)(nil)

func (m *MockEventStream) Read(nonblock bool) (model.Event, error) {
	ret := m.Called(nonblock)
	return ret.Get(0).(model.Event), ret.Error(1)
}

func (m *MockEventStream) Close() error { return m.Called().Error(0) }
