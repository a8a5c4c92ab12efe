// Package predicate defines the registered rule shape spec §3/§4.D/§6
// describes: a tagged sum of trigger kinds (spec §9 design note) laid
// out as one struct with kind-gated optional fields, the same shape
// the teacher's config.MatchSpec uses for its own Type-discriminated
// match rules.
package predicate

import (
	"github.com/chainrelay/chainhooks/internal/chain"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusScanning  Status = "scanning"
	StatusStreaming Status = "streaming"
	StatusExpired   Status = "expired"
	StatusDisabled  Status = "disabled"
)

type TriggerKind string

const (
	TriggerBlock               TriggerKind = "block"
	TriggerTxid                TriggerKind = "txid"
	TriggerInputsTxid          TriggerKind = "inputs.txid"
	TriggerInputsWitnessScript TriggerKind = "inputs.witness_script"
	TriggerOutputsOpReturn     TriggerKind = "outputs.op_return"
	TriggerOutputsP2PKH        TriggerKind = "outputs.p2pkh"
	TriggerOutputsP2SH         TriggerKind = "outputs.p2sh"
	TriggerOutputsP2WPKH       TriggerKind = "outputs.p2wpkh"
	TriggerOutputsP2WSH        TriggerKind = "outputs.p2wsh"
	TriggerOutputsDescriptor   TriggerKind = "outputs.descriptor"
	TriggerStacksProtocol      TriggerKind = "stacks_protocol"
	TriggerOrdinalsProtocol    TriggerKind = "ordinals_protocol"

	TriggerBlockHeight        TriggerKind = "block_height"
	TriggerContractDeployment TriggerKind = "contract_deployment"
	TriggerContractCall       TriggerKind = "contract_call"
	TriggerPrintEvent         TriggerKind = "print_event"
	TriggerFtEvent            TriggerKind = "ft_event"
	TriggerNftEvent           TriggerKind = "nft_event"
	TriggerStxEvent           TriggerKind = "stx_event"
)

// knownL1Triggers / knownL2Triggers gate registration (spec §4.C,
// "reject if the predicate variant is not known for the chain").
var knownL1Triggers = map[TriggerKind]bool{
	TriggerBlock: true, TriggerTxid: true, TriggerInputsTxid: true,
	TriggerInputsWitnessScript: true, TriggerOutputsOpReturn: true,
	TriggerOutputsP2PKH: true, TriggerOutputsP2SH: true, TriggerOutputsP2WPKH: true,
	TriggerOutputsP2WSH: true, TriggerOutputsDescriptor: true,
	TriggerStacksProtocol: true, TriggerOrdinalsProtocol: true,
}

var knownL2Triggers = map[TriggerKind]bool{
	TriggerBlockHeight: true, TriggerContractDeployment: true, TriggerContractCall: true,
	TriggerPrintEvent: true, TriggerFtEvent: true, TriggerNftEvent: true,
	TriggerStxEvent: true, TriggerTxid: true,
}

// KnownForChain reports whether kind is a valid trigger for c.
func KnownForChain(c chain.Name, kind TriggerKind) bool {
	if c == chain.L1 {
		return knownL1Triggers[kind]
	}
	return knownL2Triggers[kind]
}

// MatchRule is the shared string-matching shape used by several
// trigger variants (spec §4.D): equals compares raw bytes, the others
// compare hex case-insensitively, matches_regex uses RE2 (Go's
// regexp), which already forbids backreferences/lookaround and
// guarantees linear-time evaluation — exactly spec §4.D's
// "deterministic regex dialect" requirement.
type MatchRule struct {
	Equals       string `yaml:"equals,omitempty" json:"equals,omitempty"`
	StartsWith   string `yaml:"starts_with,omitempty" json:"starts_with,omitempty"`
	EndsWith     string `yaml:"ends_with,omitempty" json:"ends_with,omitempty"`
	MatchesRegex string `yaml:"matches_regex,omitempty" json:"matches_regex,omitempty"`
	Contains     string `yaml:"contains,omitempty" json:"contains,omitempty"`
}

type OutPoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

type DescriptorSpec struct {
	Expression string `json:"expression"`
	RangeLow   uint32 `json:"range_low"`
	RangeHigh  uint32 `json:"range_high"`
}

type HeightOp struct {
	Equals     *uint64 `json:"equals,omitempty"`
	HigherThan *uint64 `json:"higher_than,omitempty"`
	LowerThan  *uint64 `json:"lower_than,omitempty"`
	BetweenLow *uint64 `json:"between_low,omitempty"`
	BetweenHi  *uint64 `json:"between_high,omitempty"`
}

type ContractDeploymentSpec struct {
	Deployer       string `json:"deployer,omitempty"`
	ImplementTrait string `json:"implement_trait,omitempty"` // "sip09" | "sip10" | "*"
}

type ContractCallSpec struct {
	ContractIdentifier string `json:"contract_identifier"`
	Method              string `json:"method"`
}

type PrintEventSpec struct {
	ContractIdentifier string     `json:"contract_identifier"`
	Rule                MatchRule `json:"rule"`
}

// AssetEventSpec covers ft_event/nft_event/stx_event: an optional
// asset identifier (empty for stx_event, which has no asset) plus the
// set of event kinds to match.
type AssetEventSpec struct {
	AssetIdentifier string   `json:"asset_identifier,omitempty"`
	Actions         []string `json:"actions"` // subset of mint/burn/transfer
}

// Trigger is the tagged sum of every matchable condition (spec §4.D),
// laid out kind-first with the active variant's fields populated.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	TxidEquals          string          `json:"txid_equals,omitempty"`
	InputsOutpoint      *OutPoint       `json:"inputs_outpoint,omitempty"`
	InputsWitnessScript *MatchRule      `json:"inputs_witness_script,omitempty"`
	OutputsOpReturn     *MatchRule      `json:"outputs_op_return,omitempty"`
	OutputsAddress      *MatchRule      `json:"outputs_address,omitempty"`
	OutputsDescriptor   *DescriptorSpec `json:"outputs_descriptor,omitempty"`
	StacksProtocolOp    string          `json:"stacks_protocol_operation,omitempty"`
	OrdinalsProtocolOp  string          `json:"ordinals_protocol_operation,omitempty"`

	BlockHeight        *HeightOp               `json:"block_height,omitempty"`
	ContractDeployment *ContractDeploymentSpec `json:"contract_deployment,omitempty"`
	ContractCall       *ContractCallSpec       `json:"contract_call,omitempty"`
	PrintEvent         *PrintEventSpec         `json:"print_event,omitempty"`
	AssetEvent         *AssetEventSpec         `json:"asset_event,omitempty"`
}

type ActionKind string

const (
	ActionNoop       ActionKind = "noop"
	ActionHTTPPost   ActionKind = "http_post"
	ActionFileAppend ActionKind = "file_append"
)

type HTTPPostAction struct {
	URL                 string `json:"url"`
	AuthorizationHeader string `json:"authorization_header,omitempty"`
}

type FileAppendAction struct {
	Path    string `json:"path"`
	Durable bool   `json:"durable,omitempty"`
}

type Action struct {
	Kind       ActionKind        `json:"kind"`
	HTTPPost   *HTTPPostAction   `json:"http_post,omitempty"`
	FileAppend *FileAppendAction `json:"file_append,omitempty"`
}

// Bounds restricts which heights a predicate evaluates and when it
// stops, per spec §3.
type Bounds struct {
	StartBlock            *uint64  `json:"start_block,omitempty"`
	EndBlock              *uint64  `json:"end_block,omitempty"`
	Blocks                []uint64 `json:"blocks,omitempty"`
	ExpireAfterOccurrence *uint64  `json:"expire_after_occurrence,omitempty"`
}

// Predicate is the durable registration record of spec §3.
type Predicate struct {
	UUID      string     `json:"uuid"`
	Chain     chain.Name `json:"chain"`
	Network   string     `json:"network"`
	Name      string     `json:"name"`
	Version   uint32     `json:"version"`
	OwnerUUID string     `json:"owner_uuid,omitempty"`

	Trigger Trigger `json:"trigger"`
	Action  Action  `json:"action"`
	Bounds  Bounds  `json:"bounds"`

	Status           Status `json:"status"`
	Cursor           uint64 `json:"cursor"`
	OccurrencesTotal uint64 `json:"occurrences_total"`
	DispatchFailures uint64 `json:"dispatch_failures"`
}

// InBounds reports whether height falls within the predicate's
// configured [start_block, end_block] window and, if set, its
// explicit height allow-list (spec §3, SPEC_FULL §4.D supplement).
func (p *Predicate) InBounds(height uint64) bool {
	if p.Bounds.StartBlock != nil && height < *p.Bounds.StartBlock {
		return false
	}
	if p.Bounds.EndBlock != nil && height > *p.Bounds.EndBlock {
		return false
	}
	if len(p.Bounds.Blocks) > 0 {
		found := false
		for _, h := range p.Bounds.Blocks {
			if h == height {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Expired reports whether the predicate has reached its
// expire_after_occurrence cap (spec §4.E).
func (p *Predicate) Expired() bool {
	return p.Bounds.ExpireAfterOccurrence != nil && p.OccurrencesTotal >= *p.Bounds.ExpireAfterOccurrence
}
