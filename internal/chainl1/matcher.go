package chainl1

import (
	"fmt"

	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/predicate"
)

// Match is the pure, side-effect-free function of spec §4.D for L1:
// given a block and a predicate, it yields zero or more occurrences.
// The same (block, predicate) pair always yields the same result
// (spec §8 property 3).
func Match(b *Block, p *predicate.Predicate) ([]chain.Occurrence, error) {
	if !p.InBounds(b.Header.ID.Height) {
		return nil, nil
	}

	if p.Trigger.Kind == predicate.TriggerBlock {
		return []chain.Occurrence{{BlockID: b.Header.ID, TxIndex: -1}}, nil
	}

	var out []chain.Occurrence
	var firstErr error
	for _, tx := range b.Txs {
		matched, payload, err := matchTx(tx, p.Trigger)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("predicate %s tx %d: %w", p.UUID, tx.Index, err)
			}
			continue
		}
		if matched {
			out = append(out, chain.Occurrence{
				BlockID: b.Header.ID,
				TxIndex: tx.Index,
				Payload: payload,
			})
		}
	}
	return out, firstErr
}

func matchTx(tx Tx, t predicate.Trigger) (bool, map[string]any, error) {
	switch t.Kind {
	case predicate.TriggerTxid:
		return tx.Txid.String() == t.TxidEquals, map[string]any{"txid": tx.Txid.String()}, nil

	case predicate.TriggerInputsTxid:
		if t.InputsOutpoint == nil {
			return false, nil, nil
		}
		for _, in := range tx.Inputs {
			if in.PrevOut.Txid.String() == t.InputsOutpoint.Txid && in.PrevOut.Vout == t.InputsOutpoint.Vout {
				return true, map[string]any{"spent_outpoint": t.InputsOutpoint}, nil
			}
		}
		return false, nil, nil

	case predicate.TriggerInputsWitnessScript:
		if t.InputsWitnessScript == nil {
			return false, nil, nil
		}
		for _, in := range tx.Inputs {
			ok, err := t.InputsWitnessScript.MatchBytes(in.WitnessScript)
			if err != nil {
				return false, nil, err
			}
			if ok {
				return true, map[string]any{"witness_script": in.WitnessScript}, nil
			}
		}
		return false, nil, nil

	case predicate.TriggerOutputsOpReturn:
		if t.OutputsOpReturn == nil {
			return false, nil, nil
		}
		for i, out := range tx.Outputs {
			if out.OpReturnData == nil {
				continue
			}
			ok, err := t.OutputsOpReturn.MatchBytes(out.OpReturnData)
			if err != nil {
				return false, nil, err
			}
			if ok {
				return true, map[string]any{"vout": i, "op_return": out.OpReturnData}, nil
			}
		}
		return false, nil, nil

	case predicate.TriggerOutputsP2PKH, predicate.TriggerOutputsP2SH,
		predicate.TriggerOutputsP2WPKH, predicate.TriggerOutputsP2WSH:
		kind := addressKindFor(t.Kind)
		if t.OutputsAddress == nil {
			return false, nil, nil
		}
		for i, out := range tx.Outputs {
			if out.AddressKind != kind {
				continue
			}
			if out.Address == t.OutputsAddress.Equals {
				return true, map[string]any{"vout": i, "address": out.Address}, nil
			}
		}
		return false, nil, nil

	case predicate.TriggerOutputsDescriptor:
		if t.OutputsDescriptor == nil {
			return false, nil, nil
		}
		return matchDescriptor(tx, *t.OutputsDescriptor)

	case predicate.TriggerStacksProtocol:
		if tx.StacksMarker != nil && tx.StacksMarker.Operation == t.StacksProtocolOp {
			return true, map[string]any{"operation": tx.StacksMarker.Operation}, nil
		}
		return false, nil, nil

	case predicate.TriggerOrdinalsProtocol:
		if t.OrdinalsProtocolOp != "inscription_feed" {
			return false, nil, nil
		}
		if len(tx.Inscriptions) > 0 {
			return true, map[string]any{"inscription_count": len(tx.Inscriptions)}, nil
		}
		return false, nil, nil

	default:
		return false, nil, fmt.Errorf("unsupported L1 trigger kind %q", t.Kind)
	}
}

func addressKindFor(k predicate.TriggerKind) string {
	switch k {
	case predicate.TriggerOutputsP2PKH:
		return "p2pkh"
	case predicate.TriggerOutputsP2SH:
		return "p2sh"
	case predicate.TriggerOutputsP2WPKH:
		return "p2wpkh"
	case predicate.TriggerOutputsP2WSH:
		return "p2wsh"
	}
	return ""
}

// matchDescriptor evaluates the one literal descriptor form this
// router resolves without an HD wallet library: addr(<address>), whose
// address is compared against each output's Address and raw
// ScriptPubKey bytes. Every other expression, including raw(<hex
// script>) and range-derived xpub descriptors, returns an error, which
// is a PredicateEvaluation error per spec §7, skipped rather than fatal
// (see DESIGN.md).
func matchDescriptor(tx Tx, d predicate.DescriptorSpec) (bool, map[string]any, error) {
	target, ok := literalDescriptorTarget(d.Expression)
	if !ok {
		return false, nil, fmt.Errorf("descriptor %q requires derivation support not available", d.Expression)
	}
	for i, out := range tx.Outputs {
		if out.Address == target || string(out.ScriptPubKey) == target {
			return true, map[string]any{"vout": i, "descriptor": d.Expression}, nil
		}
	}
	return false, nil, nil
}

func literalDescriptorTarget(expr string) (string, bool) {
	const addrPrefix, addrSuffix = "addr(", ")"
	if len(expr) > len(addrPrefix)+len(addrSuffix) && expr[:len(addrPrefix)] == addrPrefix && expr[len(expr)-1:] == addrSuffix {
		return expr[len(addrPrefix) : len(expr)-1], true
	}
	return "", false
}
