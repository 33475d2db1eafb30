package identity

import (
	"github.com/cespare/xxhash/v2"
)

var adjectives = []string{
	"Amber", "Brave", "Calm", "Clever", "Cosmic", "Curious", "Dapper", "Eager",
	"Fancy", "Fuzzy", "Gentle", "Golden", "Happy", "Hidden", "Jolly", "Kind",
	"Lucky", "Mellow", "Misty", "Nimble", "Noble", "Patient", "Quiet", "Rapid",
	"Rusty", "Silent", "Silver", "Sleepy", "Sunny", "Swift", "Witty", "Zesty",
}

var nouns = []string{
	"Badger", "Bear", "Beaver", "Crane", "Falcon", "Ferret", "Finch", "Fox",
	"Gecko", "Heron", "Koala", "Lemur", "Lynx", "Marten", "Moose", "Newt",
	"Otter", "Owl", "Panda", "Puffin", "Quokka", "Raven", "Robin", "Seal",
	"Sparrow", "Squid", "Stoat", "Tapir", "Turtle", "Walrus", "Wombat", "Yak",
}

// DisplayName 把不透明的用户 ID 确定性地映射为 “形容词 名词” 形式的匿名昵称。
// 纯函数：同样的输入在任何进程中都得到同样的输出。
func DisplayName(userID string) string {
	h := xxhash.Sum64String(userID)
	adj := adjectives[h%uint64(len(adjectives))]
	noun := nouns[(h>>32)%uint64(len(nouns))]
	return adj + " " + noun
}
