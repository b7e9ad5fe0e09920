package common

type LocalMsgType uint32

func (lt *LocalMsgType) Type() LocalMsgType {
	return (*lt) & (0xff00)
}

func (lt *LocalMsgType) SubType() LocalMsgType {
	return (*lt) & (0x00ff)
}

// |--type--|-subtype-|
// 0000 0000 0000 0000
const (
	LocalNoUseType          LocalMsgType = 0
	LocalTrainMsg           LocalMsgType = 1 << 8
	LocalTrainMsg_Iteration LocalMsgType = LocalTrainMsg | 1
	LocalTrainMsg_Done      LocalMsgType = LocalTrainMsg | 2
	LocalClassifyMsg        LocalMsgType = 2 << 8
	LocalClassifyMsg_Result LocalMsgType = LocalClassifyMsg | 1
)

var LocalMsgType_Name = map[LocalMsgType]string{
	LocalTrainMsg_Iteration: "train.iteration",
	LocalTrainMsg_Done:      "train.done",
	LocalClassifyMsg_Result: "classify.result",
}

func (lt LocalMsgType) String() string {
	if name, ok := LocalMsgType_Name[lt]; ok {
		return name
	}
	return "unknown"
}
