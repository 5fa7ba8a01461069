package packet

import (
	"fmt"
	"math"

	"github.com/autosupper/autosupper/internal/mission"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the mission metadata response.
//
//	MissionMetadata { 1: post_id string, 2: mission MissionInfo }
//	MissionInfo     { 1: difficulty, 2: min_level, 3: max_level, 4: environment (enum or string),
//	                  5: encounters repeated Encounter, 6: title, 7: food_name }
//	Encounter       { 1: type (enum or string), 2: enemies repeated Enemy, 3: options repeated string,
//	                  4: positive Effect, 5: negative Effect }
//	Enemy           { 1: type string, 2: level }
//	Effect          { 1: stat string, 2: amount double }
const (
	fieldMetaPostID  protowire.Number = 1
	fieldMetaMission protowire.Number = 2

	fieldInfoDifficulty  protowire.Number = 1
	fieldInfoMinLevel    protowire.Number = 2
	fieldInfoMaxLevel    protowire.Number = 3
	fieldInfoEnvironment protowire.Number = 4
	fieldInfoEncounters  protowire.Number = 5
	fieldInfoTitle       protowire.Number = 6
	fieldInfoFoodName    protowire.Number = 7

	fieldEncType     protowire.Number = 1
	fieldEncEnemies  protowire.Number = 2
	fieldEncOptions  protowire.Number = 3
	fieldEncPositive protowire.Number = 4
	fieldEncNegative protowire.Number = 5

	fieldEnemyType  protowire.Number = 1
	fieldEnemyLevel protowire.Number = 2

	fieldEffectStat   protowire.Number = 1
	fieldEffectAmount protowire.Number = 2
)

var environments = map[uint64]string{
	1: "haunted_forest",
	2: "new_eden",
	3: "mossy_forest",
	4: "dark_forest",
	5: "desert",
	6: "lava_river",
	7: "frozen_peaks",
	8: "sunken_city",
}

var encounterTypes = map[uint64]mission.EncounterType{
	1: mission.EncounterEnemy,
	2: mission.EncounterBoss,
	3: mission.EncounterSkillBargain,
	4: mission.EncounterAbilityChoice,
	5: mission.EncounterStatsChoice,
	6: mission.EncounterCrossroadsFight,
	7: mission.EncounterInvestigate,
	8: mission.EncounterTreasure,
}

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	fixed  uint64
	bytes  []byte
}

func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.fixed, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.fixed = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMission decodes a MissionMetadata message. It fails unless the
// difficulty (1-5), both level bounds in order and the environment are
// present: a half populated record is never returned. PostID may be empty when the response
// does not carry it; callers fill it from the request.
func DecodeMission(msg []byte) (mission.Record, error) {
	var (
		rec     mission.Record
		sawInfo bool
	)
	err := walk(msg, func(f field) error {
		switch {
		case f.num == fieldMetaPostID && f.typ == protowire.BytesType:
			rec.PostID = string(f.bytes)
		case f.num == fieldMetaMission && f.typ == protowire.BytesType:
			sawInfo = true
			return decodeInfo(f.bytes, &rec)
		}
		return nil
	})
	if err != nil {
		return mission.Record{}, err
	}
	if !sawInfo {
		return mission.Record{}, fmt.Errorf("%w: no mission info", ErrMalformed)
	}
	if rec.Difficulty <= 0 || rec.MinLevel == nil || rec.MaxLevel == nil || rec.Environment == "" {
		return mission.Record{}, fmt.Errorf("%w: incomplete mission info", ErrMalformed)
	}
	if rec.Difficulty > 5 {
		return mission.Record{}, fmt.Errorf("%w: difficulty %d out of range", ErrMalformed, rec.Difficulty)
	}
	if *rec.MinLevel > *rec.MaxLevel {
		return mission.Record{}, fmt.Errorf("%w: minLevel %d above maxLevel %d", ErrMalformed, *rec.MinLevel, *rec.MaxLevel)
	}
	return rec, nil
}

func decodeInfo(b []byte, rec *mission.Record) error {
	return walk(b, func(f field) error {
		switch f.num {
		case fieldInfoDifficulty:
			rec.Difficulty = int(f.varint)
		case fieldInfoMinLevel:
			rec.MinLevel = mission.IntPtr(int(f.varint))
		case fieldInfoMaxLevel:
			rec.MaxLevel = mission.IntPtr(int(f.varint))
		case fieldInfoEnvironment:
			if f.typ == protowire.BytesType {
				rec.Environment = string(f.bytes)
			} else if name, ok := environments[f.varint]; ok {
				rec.Environment = name
			} else {
				rec.Environment = fmt.Sprintf("environment_%d", f.varint)
			}
		case fieldInfoEncounters:
			enc, err := decodeEncounter(f.bytes)
			if err != nil {
				return err
			}
			rec.Encounters = append(rec.Encounters, enc)
		case fieldInfoTitle:
			rec.MissionTitle = string(f.bytes)
		case fieldInfoFoodName:
			rec.FoodName = string(f.bytes)
		}
		return nil
	})
}

func decodeEncounter(b []byte) (mission.Encounter, error) {
	var enc mission.Encounter
	var positive, negative *mission.Effect
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldEncType:
			if f.typ == protowire.BytesType {
				enc.Type = mission.EncounterType(f.bytes)
			} else if t, ok := encounterTypes[f.varint]; ok {
				enc.Type = t
			} else {
				return fmt.Errorf("%w: unknown encounter type %d", ErrMalformed, f.varint)
			}
		case fieldEncEnemies:
			var e mission.Enemy
			if err := walk(f.bytes, func(f field) error {
				switch f.num {
				case fieldEnemyType:
					e.Type = string(f.bytes)
				case fieldEnemyLevel:
					e.Level = int(f.varint)
				}
				return nil
			}); err != nil {
				return err
			}
			enc.Enemies = append(enc.Enemies, e)
		case fieldEncOptions:
			enc.Options = append(enc.Options, string(f.bytes))
		case fieldEncPositive, fieldEncNegative:
			eff, err := decodeEffect(f.bytes)
			if err != nil {
				return err
			}
			if f.num == fieldEncPositive {
				positive = &eff
			} else {
				negative = &eff
			}
		}
		return nil
	})
	if err != nil {
		return mission.Encounter{}, err
	}
	if positive != nil || negative != nil {
		enc.Bargain = &mission.Bargain{}
		if positive != nil {
			enc.Bargain.Positive = *positive
		}
		if negative != nil {
			enc.Bargain.Negative = *negative
		}
	}
	return enc, nil
}

func decodeEffect(b []byte) (mission.Effect, error) {
	var eff mission.Effect
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldEffectStat:
			eff.Stat = string(f.bytes)
		case fieldEffectAmount:
			switch f.typ {
			case protowire.Fixed64Type:
				eff.Amount = math.Float64frombits(f.fixed)
			case protowire.Fixed32Type:
				eff.Amount = float64(math.Float32frombits(uint32(f.fixed)))
			case protowire.VarintType:
				eff.Amount = float64(protowire.DecodeZigZag(f.varint))
			}
		}
		return nil
	})
	return eff, err
}
