package msgbus

import (
	"dsphmm/common"
	"sync"
	"sync/atomic"
)

var defaultTopicSize int = 100

type BusMessage struct {
	MsgType common.LocalMsgType
	RunID   string
	Msg     interface{}
}

type Subscriber interface {
	HandleMsgFromMsgBus(msg *BusMessage) error
}

type MessageBus interface {
	Register(topic common.LocalMsgType, sub Subscriber)
	UnRegister(topic common.LocalMsgType, sub Subscriber)
	Publish(runID string, t common.LocalMsgType, payload interface{})
	// Reset stops every topic after its pending messages are delivered.
	Reset()
}

type Topic interface {
	Register(sub Subscriber)
	UnRegister(sub Subscriber)
	Publish(msg *BusMessage)
	Stop()
}

// topicImpl delivers messages to its subscribers one at a time, in publish order.
type topicImpl struct {
	msgChan chan *BusMessage
	subs    atomic.Value //[]Subscriber
	mutex   sync.RWMutex
	stopped bool

	done chan struct{}
}

func newTopic(size int) Topic {
	t := &topicImpl{
		msgChan: make(chan *BusMessage, size),
		done:    make(chan struct{}),
	}
	t.subs.Store([]Subscriber{})
	go t.handlePublish()
	return t
}

func (t *topicImpl) Register(sub Subscriber) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subs := t.subs.Load().([]Subscriber)
	for _, s := range subs {
		if s == sub {
			return
		}
	}
	newSubs := make([]Subscriber, 0, len(subs)+1)
	newSubs = append(newSubs, subs...)
	t.subs.Store(append(newSubs, sub))
}

func (t *topicImpl) UnRegister(sub Subscriber) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subs := t.subs.Load().([]Subscriber)
	for i, s := range subs {
		if s == sub {
			newSubs := make([]Subscriber, 0, len(subs)-1)
			newSubs = append(newSubs, subs[:i]...)
			t.subs.Store(append(newSubs, subs[i+1:]...))
			return
		}
	}
}

// Publish blocks when the topic buffer is full. Messages published after Stop are dropped.
func (t *topicImpl) Publish(msg *BusMessage) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.stopped {
		return
	}
	t.msgChan <- msg
}

// Stop waits until handlePublish has delivered every pending message.
func (t *topicImpl) Stop() {
	t.mutex.Lock()
	if t.stopped {
		t.mutex.Unlock()
		<-t.done
		return
	}
	t.stopped = true
	close(t.msgChan)
	t.mutex.Unlock()
	<-t.done
}

func (t *topicImpl) handlePublish() {
	defer close(t.done)
	for msg := range t.msgChan {
		subs := t.subs.Load().([]Subscriber)
		for _, sub := range subs {
			// a failing subscriber must not starve the others
			_ = sub.HandleMsgFromMsgBus(msg)
		}
	}
}

type messageBusImpl struct {
	mutex  sync.Mutex
	topics sync.Map //first class LocalMsgType -> Topic
}

func NewMessageBus() MessageBus {
	return &messageBusImpl{}
}

func (mb *messageBusImpl) Register(topic common.LocalMsgType, sub Subscriber) {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	firstClassTopic := topic.Type()
	if v, ok := mb.topics.Load(firstClassTopic); ok {
		v.(Topic).Register(sub)
		return
	}
	t := newTopic(defaultTopicSize)
	t.Register(sub)
	mb.topics.Store(firstClassTopic, t)
}

func (mb *messageBusImpl) UnRegister(topic common.LocalMsgType, sub Subscriber) {
	firstClassTopic := topic.Type()
	v, ok := mb.topics.Load(firstClassTopic)
	if !ok {
		return
	}
	v.(Topic).UnRegister(sub)
}

// Publish is a no-op for topics nobody registered.
func (mb *messageBusImpl) Publish(runID string, topic common.LocalMsgType, msg interface{}) {
	firstClassTopic := topic.Type()
	v, ok := mb.topics.Load(firstClassTopic)
	if !ok {
		return
	}
	v.(Topic).Publish(&BusMessage{MsgType: topic, RunID: runID, Msg: msg})
}

func (mb *messageBusImpl) Reset() {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	mb.topics.Range(func(k, v interface{}) bool {
		v.(Topic).Stop()
		mb.topics.Delete(k)
		return true
	})
}

var singletonMessageBus MessageBus
var once sync.Once

func InitMessageBus() MessageBus {
	once.Do(func() {
		singletonMessageBus = NewMessageBus()
	})
	return singletonMessageBus
}

func Register(topic common.LocalMsgType, sub Subscriber) {
	InitMessageBus().Register(topic, sub)
}

func UnRegister(topic common.LocalMsgType, sub Subscriber) {
	InitMessageBus().UnRegister(topic, sub)
}

func Publish(runID string, topic common.LocalMsgType, msg interface{}) {
	InitMessageBus().Publish(runID, topic, msg)
}

func Reset() {
	InitMessageBus().Reset()
}
