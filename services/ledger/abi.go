package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// 账本合约方法名
const (
	MethodGetGame               = "getGame"
	MethodGames                 = "games"
	MethodGetPlayerGames        = "getPlayerGames"
	MethodGetCoordinationStatus = "getCoordinationStatus"
	MethodAgentNonces           = "agentNonces"
	MethodDomainSeparator       = "DOMAIN_SEPARATOR"
	MethodCoordinationType      = "COORDINATION_TYPE"
	MethodProposeCoordination   = "proposeCoordination"
	MethodAcceptCoordination    = "acceptCoordination"
	MethodRevealMove            = "revealMove"
	MethodCancelCoordination    = "cancelCoordination"
)

// 账本合约事件名
const (
	EventCoordinationProposed  = "CoordinationProposed"
	EventCoordinationAccepted  = "CoordinationAccepted"
	EventCoordinationExecuted  = "CoordinationExecuted"
	EventCoordinationCancelled = "CoordinationCancelled"
	EventMoveRevealed          = "MoveRevealed"
)

const intentTupleJSON = `{"name":"intent","type":"tuple","components":[
	{"name":"payloadHash","type":"bytes32"},
	{"name":"expiry","type":"uint64"},
	{"name":"nonce","type":"uint64"},
	{"name":"agentId","type":"address"},
	{"name":"coordinationType","type":"bytes32"},
	{"name":"coordinationValue","type":"uint256"},
	{"name":"participants","type":"address[]"}]}`

const acceptanceTupleJSON = `{"name":"attestation","type":"tuple","components":[
	{"name":"intentHash","type":"bytes32"},
	{"name":"participant","type":"address"},
	{"name":"nonce","type":"uint64"},
	{"name":"expiry","type":"uint64"},
	{"name":"conditionsHash","type":"bytes32"},
	{"name":"signature","type":"bytes"}]}`

// LedgerABI RockPaperScissorsERC8001 合约接口
const LedgerABI = `[
{"type":"event","name":"CoordinationProposed","anonymous":false,"inputs":[
	{"name":"intentHash","type":"bytes32","indexed":true},
	{"name":"agentId","type":"address","indexed":true},
	{"name":"opponent","type":"address","indexed":true},
	{"name":"wager","type":"uint256","indexed":false},
	{"name":"expiry","type":"uint64","indexed":false}]},
{"type":"event","name":"CoordinationAccepted","anonymous":false,"inputs":[
	{"name":"intentHash","type":"bytes32","indexed":true},
	{"name":"participant","type":"address","indexed":true},
	{"name":"commitment","type":"bytes32","indexed":false}]},
{"type":"event","name":"CoordinationExecuted","anonymous":false,"inputs":[
	{"name":"intentHash","type":"bytes32","indexed":true},
	{"name":"result","type":"uint8","indexed":false},
	{"name":"winner","type":"address","indexed":false}]},
{"type":"event","name":"CoordinationCancelled","anonymous":false,"inputs":[
	{"name":"intentHash","type":"bytes32","indexed":true},
	{"name":"cancelledBy","type":"address","indexed":false}]},
{"type":"event","name":"MoveRevealed","anonymous":false,"inputs":[
	{"name":"intentHash","type":"bytes32","indexed":true},
	{"name":"player","type":"address","indexed":true},
	{"name":"move","type":"uint8","indexed":false}]},
{"type":"function","name":"games","stateMutability":"view",
	"inputs":[{"name":"","type":"bytes32"}],
	"outputs":[
	{"name":"player1","type":"address"},{"name":"player2","type":"address"},
	{"name":"wager","type":"uint256"},{"name":"expiry","type":"uint64"},
	{"name":"revealDeadline","type":"uint64"},{"name":"status","type":"uint8"},
	{"name":"player1Commitment","type":"bytes32"},{"name":"player2Commitment","type":"bytes32"},
	{"name":"player1Move","type":"uint8"},{"name":"player2Move","type":"uint8"},
	{"name":"result","type":"uint8"}]},
{"type":"function","name":"getGame","stateMutability":"view",
	"inputs":[{"name":"intentHash","type":"bytes32"}],
	"outputs":[
	{"name":"player1","type":"address"},{"name":"player2","type":"address"},
	{"name":"wager","type":"uint256"},{"name":"expiry","type":"uint64"},
	{"name":"revealDeadline","type":"uint64"},{"name":"status","type":"uint8"},
	{"name":"player1Committed","type":"bool"},{"name":"player2Committed","type":"bool"},
	{"name":"player1Move","type":"uint8"},{"name":"player2Move","type":"uint8"},
	{"name":"result","type":"uint8"}]},
{"type":"function","name":"getPlayerGames","stateMutability":"view",
	"inputs":[{"name":"player","type":"address"}],
	"outputs":[{"name":"","type":"bytes32[]"}]},
{"type":"function","name":"getCoordinationStatus","stateMutability":"view",
	"inputs":[{"name":"intentHash","type":"bytes32"}],
	"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"agentNonces","stateMutability":"view",
	"inputs":[{"name":"","type":"address"}],
	"outputs":[{"name":"","type":"uint64"}]},
{"type":"function","name":"DOMAIN_SEPARATOR","stateMutability":"view",
	"inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"COORDINATION_TYPE","stateMutability":"view",
	"inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"proposeCoordination","stateMutability":"payable",
	"inputs":[` + intentTupleJSON + `,{"name":"signature","type":"bytes"}],
	"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"acceptCoordination","stateMutability":"payable",
	"inputs":[` + acceptanceTupleJSON + `],
	"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"revealMove","stateMutability":"nonpayable",
	"inputs":[{"name":"intentHash","type":"bytes32"},{"name":"move","type":"uint8"},{"name":"salt","type":"bytes32"}],
	"outputs":[]},
{"type":"function","name":"cancelCoordination","stateMutability":"nonpayable",
	"inputs":[{"name":"intentHash","type":"bytes32"}],
	"outputs":[]}
]`

// parsedABI 包初始化时解析，接口定义为常量，解析失败属于编程错误
var parsedABI = mustParseABI(LedgerABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("ledger: invalid ABI: " + err.Error())
	}
	return parsed
}

// ABI 返回解析后的账本合约接口
func ABI() abi.ABI {
	return parsedABI
}
