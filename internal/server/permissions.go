package server

import (
	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/protocol"
)

// Perm is an account privilege. Bit 0 is the most significant bit of the
// 64-bit privilege field.
type Perm struct {
	Name string
	Bit  uint
}

// Mask returns the privilege bit within the account field.
func (p Perm) Mask() uint64 {
	return 1 << (63 - p.Bit)
}

var (
	PermDeleteFiles    = Perm{"Delete Files", 0}
	PermUploadFiles    = Perm{"Upload Files", 1}
	PermDownloadFiles  = Perm{"Download Files", 2}
	PermRenameFiles    = Perm{"Rename Files", 3}
	PermMoveFiles      = Perm{"Move Files", 4}
	PermCreateFolders  = Perm{"Create Folders", 5}
	PermDeleteFolders  = Perm{"Delete Folders", 6}
	PermRenameFolders  = Perm{"Rename Folders", 7}
	PermMoveFolders    = Perm{"Move Folders", 8}
	PermReadChat       = Perm{"Read Chat", 9}
	PermSendChat       = Perm{"Send Chat", 10}
	PermCreateChats    = Perm{"Create Private Chats", 11}
	PermDeleteChats    = Perm{"Delete Private Chats", 12}
	PermShowUser       = Perm{"Show In Userlist", 13}
	PermCreateUsers    = Perm{"Create Accounts", 14}
	PermDeleteUsers    = Perm{"Delete Accounts", 15}
	PermReadUsers      = Perm{"Read Accounts", 16}
	PermModifyUsers    = Perm{"Modify Accounts", 17}
	PermChangePassword = Perm{"Change Own Password", 18}
	PermReadNews       = Perm{"Read News", 20}
	PermPostNews       = Perm{"Post News", 21}
	PermKickUsers      = Perm{"Kick Users", 22}
	PermKickProtect    = Perm{"Cannot Be Disconnected", 23}
	PermUserInfo       = Perm{"View User Information", 24}
	PermUploadAnywhere = Perm{"Upload Anywhere", 25}
	PermUseAnyName     = Perm{"Can Use Any Name", 26}
	PermNoAgreement    = Perm{"Don't Show Agreement", 27}
	PermCommentFiles   = Perm{"Comment Files", 28}
	PermCommentFolders = Perm{"Comment Folders", 29}
	PermViewDropBoxes  = Perm{"View Drop Boxes", 30}
	PermMakeAliases    = Perm{"Make Aliases", 31}
	PermBroadcast      = Perm{"Broadcast", 32}
	PermSendMessages   = Perm{"Send Messages", 40}
)

// PermGroup is a named set of privileges shown together by clients.
type PermGroup struct {
	Name  string
	Perms []Perm
}

// PermGroups lists every privilege by group.
var PermGroups = []PermGroup{
	{"Files", []Perm{
		PermDeleteFiles, PermUploadFiles, PermDownloadFiles, PermRenameFiles,
		PermMoveFiles, PermCreateFolders, PermDeleteFolders, PermRenameFolders,
		PermMoveFolders, PermUploadAnywhere, PermCommentFiles, PermCommentFolders,
		PermViewDropBoxes, PermMakeAliases,
	}},
	{"Chat", []Perm{PermReadChat, PermSendChat, PermCreateChats, PermDeleteChats}},
	{"Accounts", []Perm{PermCreateUsers, PermDeleteUsers, PermReadUsers, PermModifyUsers, PermChangePassword}},
	{"News", []Perm{PermReadNews, PermPostNews}},
	{"Users", []Perm{
		PermShowUser, PermKickUsers, PermKickProtect, PermUserInfo,
		PermUseAnyName, PermNoAgreement, PermBroadcast, PermSendMessages,
	}},
}

// Privs combines perms into an account privilege field.
func Privs(perms ...Perm) uint64 {
	var p uint64
	for _, perm := range perms {
		p |= perm.Mask()
	}
	return p
}

// AllPrivs grants every defined privilege.
func AllPrivs() uint64 {
	var p uint64
	for _, g := range PermGroups {
		p |= Privs(g.Perms...)
	}
	return p
}

// GuestPrivs is the privilege set of the seeded guest account.
var GuestPrivs = Privs(
	PermDownloadFiles, PermReadChat, PermSendChat, PermCreateChats,
	PermShowUser, PermReadNews, PermPostNews, PermUserInfo,
	PermUseAnyName, PermSendMessages,
)

// permissionList encodes the groups as nested containers: one DataPermGroup
// per group holding its name and a DataPerm per privilege.
func permissionList(reply *protocol.Packet) error {
	for _, g := range PermGroups {
		gc := protocol.NewContainer().AddString(protocol.DataString, g.Name)
		for _, perm := range g.Perms {
			pc := protocol.NewContainer().AddString(protocol.DataString, perm.Name)
			if err := pc.AddNumberBits(protocol.DataPrivs, perm.Mask(), 64); err != nil {
				return err
			}
			if err := gc.AddContainer(protocol.DataPerm, pc); err != nil {
				return err
			}
		}
		if err := reply.AddContainer(protocol.DataPermGroup, gc); err != nil {
			return err
		}
	}
	return nil
}

// DefaultAccounts returns the accounts seeded into a fresh store: an
// administrator holding every privilege and a password-less guest.
func DefaultAccounts() []db.Account {
	return []db.Account{
		{Login: "admin", Password: db.HashPassword("adminpass"), Name: "Administrator", Privs: AllPrivs()},
		{Login: guestLogin, Password: db.HashPassword(""), Name: "Guest", Privs: GuestPrivs},
	}
}
