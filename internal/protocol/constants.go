// Package protocol implements the Hotline wire format: tagged objects,
// object containers, packets with their 20-byte header, and the magic
// prologues exchanged when a connection opens. All integers are big endian.
package protocol

// Transaction types sent by clients.
const (
	TypeNewsGet       uint32 = 101
	TypeNewsPost      uint32 = 103
	TypeChat          uint32 = 105
	TypeLogin         uint32 = 107
	TypeMsg           uint32 = 108
	TypeKick          uint32 = 110
	TypeChatCreate    uint32 = 112
	TypeChatInvite    uint32 = 113
	TypeChatDecline   uint32 = 114
	TypeChatJoin      uint32 = 115
	TypeChatLeave     uint32 = 116
	TypeChatSubject   uint32 = 120
	TypeFileList      uint32 = 200
	TypeFileGet       uint32 = 202
	TypeFilePut       uint32 = 203
	TypeFileDelete    uint32 = 204
	TypeFileMkdir     uint32 = 205
	TypeFileGetInfo   uint32 = 206
	TypeFileSetInfo   uint32 = 207
	TypeFileMove      uint32 = 208
	TypeUserList      uint32 = 300
	TypeUserInfo      uint32 = 303
	TypeUserChange    uint32 = 304
	TypeAccountCreate uint32 = 350
	TypeAccountDelete uint32 = 351
	TypeAccountRead   uint32 = 352
	TypeAccountModify uint32 = 353
	TypeBroadcast     uint32 = 355
	TypePing          uint32 = 500

	// Icon extensions.
	TypeIconList uint32 = 1861
	TypeIconSet  uint32 = 1862
	TypeIconGet  uint32 = 1863

	// phxd extensions.
	TypeUserInfoUnformatted uint32 = 2048
	TypeNewsGetUnformatted  uint32 = 2049
	TypeAccountSelfModify   uint32 = 2050
	TypePermissionList      uint32 = 2051
)

// Transaction types sent by the server.
const (
	TypeServerNewsPost       uint32 = 102
	TypeServerMsg            uint32 = 104
	TypeServerChat           uint32 = 106
	TypeServerAgreement      uint32 = 109
	TypeServerChatInvite     uint32 = 113
	TypeServerChatUserChange uint32 = 117
	TypeServerChatUserLeave  uint32 = 118
	TypeServerChatSubject    uint32 = 119
	TypeServerUserChange     uint32 = 301
	TypeServerUserLeave      uint32 = 302
	TypeServerBroadcast      uint32 = 355
	TypeServerIconChange     uint32 = 1864

	// TypeTaskReply marks a packet as the reply to a client task.
	TypeTaskReply uint32 = 0x00010000
)

// Object kinds.
const (
	DataError        uint16 = 100
	DataString       uint16 = 101
	DataNick         uint16 = 102
	DataUID          uint16 = 103
	DataIcon         uint16 = 104
	DataLogin        uint16 = 105
	DataPassword     uint16 = 106
	DataXferID       uint16 = 107
	DataXferSize     uint16 = 108
	DataOption       uint16 = 109
	DataPrivs        uint16 = 110
	DataStatus       uint16 = 112
	DataBan          uint16 = 113
	DataChatID       uint16 = 114
	DataSubject      uint16 = 115
	DataServerName   uint16 = 162
	DataFile         uint16 = 200
	DataFilename     uint16 = 201
	DataDir          uint16 = 202
	DataResume       uint16 = 203
	DataXferOptions  uint16 = 204
	DataFileType     uint16 = 205
	DataFileCreator  uint16 = 206
	DataFileSize     uint16 = 207
	DataDateCreated  uint16 = 208
	DataDateModified uint16 = 209
	DataComment      uint16 = 210
	DataNewFile      uint16 = 211
	DataNewDir       uint16 = 212
	DataUser         uint16 = 300

	// Icon extensions.
	DataGifIcon uint16 = 768
	DataGifList uint16 = 769

	// phxd extensions.
	DataColor     uint16 = 1280
	DataOffset    uint16 = 1281
	DataLimit     uint16 = 1282
	DataCount     uint16 = 1283
	DataPost      uint16 = 1284
	DataPostID    uint16 = 1285
	DataPerm      uint16 = 1286
	DataPermGroup uint16 = 1287
	DataJoin      uint16 = 1288
	DataIP        uint16 = 1289
	DataSearch    uint16 = 1290
)

// User status bits.
const (
	StatusAway  uint64 = 1 << 0
	StatusAdmin uint64 = 1 << 1
)

// CapabilityNews is advertised in the login reply's option field.
const CapabilityNews uint64 = 1 << 0

// IsPing reports whether kind is a keep-alive that must not reset idle time.
func IsPing(kind uint32) bool {
	return kind == TypePing
}
