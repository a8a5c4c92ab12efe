package predicate

import (
	"fmt"
)

// Validate applies spec §4.C's registration checks that don't require
// looking at the registry (uuid uniqueness is checked by the caller,
// which has the table).
func (p *Predicate) Validate() error {
	if p.UUID == "" {
		return fmt.Errorf("uuid is required")
	}
	if p.Chain == "" {
		return fmt.Errorf("chain is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Bounds.StartBlock != nil && p.Bounds.EndBlock != nil && *p.Bounds.StartBlock > *p.Bounds.EndBlock {
		return fmt.Errorf("start_block %d > end_block %d", *p.Bounds.StartBlock, *p.Bounds.EndBlock)
	}
	if !KnownForChain(p.Chain, p.Trigger.Kind) {
		return fmt.Errorf("trigger %q is not known for chain %q", p.Trigger.Kind, p.Chain)
	}
	if err := validateTriggerShape(p.Trigger); err != nil {
		return err
	}
	return validateAction(p.Action)
}

func validateTriggerShape(t Trigger) error {
	switch t.Kind {
	case TriggerTxid:
		if t.TxidEquals == "" {
			return fmt.Errorf("txid trigger requires txid_equals")
		}
	case TriggerInputsTxid:
		if t.InputsOutpoint == nil {
			return fmt.Errorf("inputs.txid trigger requires inputs_outpoint")
		}
	case TriggerInputsWitnessScript:
		if t.InputsWitnessScript == nil {
			return fmt.Errorf("inputs.witness_script trigger requires a match rule")
		}
	case TriggerOutputsOpReturn:
		if t.OutputsOpReturn == nil {
			return fmt.Errorf("outputs.op_return trigger requires a match rule")
		}
	case TriggerOutputsP2PKH, TriggerOutputsP2SH, TriggerOutputsP2WPKH, TriggerOutputsP2WSH:
		if t.OutputsAddress == nil || t.OutputsAddress.Equals == "" {
			return fmt.Errorf("%s trigger requires outputs_address.equals", t.Kind)
		}
	case TriggerOutputsDescriptor:
		if t.OutputsDescriptor == nil || t.OutputsDescriptor.Expression == "" {
			return fmt.Errorf("outputs.descriptor trigger requires an expression")
		}
	case TriggerStacksProtocol:
		if t.StacksProtocolOp == "" {
			return fmt.Errorf("stacks_protocol trigger requires an operation")
		}
	case TriggerOrdinalsProtocol:
		if t.OrdinalsProtocolOp == "" {
			return fmt.Errorf("ordinals_protocol trigger requires an operation")
		}
	case TriggerBlockHeight:
		if t.BlockHeight == nil {
			return fmt.Errorf("block_height trigger requires a height op")
		}
	case TriggerContractDeployment:
		if t.ContractDeployment == nil {
			return fmt.Errorf("contract_deployment trigger requires deployer or implement_trait")
		}
	case TriggerContractCall:
		if t.ContractCall == nil || t.ContractCall.ContractIdentifier == "" || t.ContractCall.Method == "" {
			return fmt.Errorf("contract_call trigger requires contract_identifier and method")
		}
	case TriggerPrintEvent:
		if t.PrintEvent == nil || t.PrintEvent.ContractIdentifier == "" {
			return fmt.Errorf("print_event trigger requires contract_identifier")
		}
	case TriggerFtEvent, TriggerNftEvent, TriggerStxEvent:
		if t.AssetEvent == nil || len(t.AssetEvent.Actions) == 0 {
			return fmt.Errorf("%s trigger requires at least one action", t.Kind)
		}
	case TriggerBlock:
		// no parameters
	default:
		return fmt.Errorf("unrecognized trigger kind %q", t.Kind)
	}
	return nil
}

func validateAction(a Action) error {
	switch a.Kind {
	case ActionNoop:
		return nil
	case ActionHTTPPost:
		if a.HTTPPost == nil || a.HTTPPost.URL == "" {
			return fmt.Errorf("http_post action requires a url")
		}
	case ActionFileAppend:
		if a.FileAppend == nil || a.FileAppend.Path == "" {
			return fmt.Errorf("file_append action requires a path")
		}
	default:
		return fmt.Errorf("unrecognized action kind %q", a.Kind)
	}
	return nil
}
