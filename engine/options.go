package engine

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Item identifies one configuration property of a Computation or of one of
// its arguments. The integer encoding matches the native item-setting
// protocol and must not be reordered.
type Item int32

const (
	ItemDynamicBatch      Item = 0
	ItemMinBatchSize      Item = 1
	ItemMaxBatchSize      Item = 2
	ItemOptBatchSize      Item = 3
	ItemRunBatchSize      Item = 4
	ItemDynamicShape      Item = 5
	ItemMinShape          Item = 6
	ItemMaxShape          Item = 7
	ItemOptShape          Item = 8
	ItemBF16Mode          Item = 9
	ItemFP16Mode          Item = 10
	ItemUseSimMode        Item = 11
	ItemProcessorNum      Item = 12
	ItemBatchesPerStep    Item = 13
	ItemUseDataType       Item = 14
	ItemLoadEngineMode    Item = 15
	ItemUseDLACore        Item = 16
	ItemQuantTable        Item = 17
	ItemQuantTableSize    Item = 18
	ItemEnableEngineCache Item = 19
	ItemCacheDir          Item = 20
)

var itemNames = map[Item]string{
	ItemDynamicBatch:      "DYNAMIC_BATCH",
	ItemMinBatchSize:      "MIN_BATCH_SIZE",
	ItemMaxBatchSize:      "MAX_BATCH_SIZE",
	ItemOptBatchSize:      "OPT_BATCH_SIZE",
	ItemRunBatchSize:      "RUN_BATCH_SIZE",
	ItemDynamicShape:      "DYNAMIC_SHAPE",
	ItemMinShape:          "MIN_SHAPE",
	ItemMaxShape:          "MAX_SHAPE",
	ItemOptShape:          "OPT_SHAPE",
	ItemBF16Mode:          "BF16_MODE",
	ItemFP16Mode:          "FP16_MODE",
	ItemUseSimMode:        "USE_SIM_MODE",
	ItemProcessorNum:      "PROCESSOR_NUM",
	ItemBatchesPerStep:    "BATCHES_PER_STEP",
	ItemUseDataType:       "USE_DATA_TYPE",
	ItemLoadEngineMode:    "LOAD_ENGINE_MODE",
	ItemUseDLACore:        "USE_DLA_CORE",
	ItemQuantTable:        "QUANT_TABLE",
	ItemQuantTableSize:    "QUANT_TABLE_SIZE",
	ItemEnableEngineCache: "ENABLE_ENGINE_CACHE",
	ItemCacheDir:          "CACHE_DIR",
}

// String implements fmt.Stringer.
func (item Item) String() string {
	if name, found := itemNames[item]; found {
		return name
	}
	return "UNKNOWN_ITEM"
}

// settings accumulates the item values set on a Computation before execution.
type settings struct {
	dynamicBatch bool
	minBatch     int
	maxBatch     int
	optBatch     int
	runBatch     int

	dynamicShape bool

	bf16Mode bool
	fp16Mode bool
	simMode  bool

	processorNum   int
	batchesPerStep int
	useDataType    dtypes.DType
	useDLACore     int

	quantTable     []byte
	quantTableSize int

	loadEngineMode    bool
	enableEngineCache bool
	cacheDir          string
}

// itemBool coerces the value of a boolean item.
func itemBool(item Item, value any) (bool, error) {
	v, ok := value.(bool)
	if !ok {
		return false, errors.Wrapf(ErrUnsupportedOption, "item %s requires a bool value, got %T", item, value)
	}
	return v, nil
}

// itemInt coerces the value of a non-negative integer item.
func itemInt(item Item, value any) (int, error) {
	v, ok := value.(int)
	if !ok {
		return 0, errors.Wrapf(ErrUnsupportedOption, "item %s requires an int value, got %T", item, value)
	}
	if v < 0 {
		return 0, errors.Wrapf(ErrUnsupportedOption, "item %s requires a non-negative value, got %d", item, v)
	}
	return v, nil
}

// apply sets one item. It returns ErrUnsupportedOption for unrecognized items
// or mistyped values. The per-value shape items (MIN/MAX/OPT_SHAPE) are not
// computation-level and are routed through Computation.SetArgumentShapeInfo.
func (s *settings) apply(item Item, value any) error {
	var err error
	switch item {
	case ItemDynamicBatch:
		s.dynamicBatch, err = itemBool(item, value)
	case ItemMinBatchSize:
		s.minBatch, err = itemInt(item, value)
	case ItemMaxBatchSize:
		s.maxBatch, err = itemInt(item, value)
	case ItemOptBatchSize:
		s.optBatch, err = itemInt(item, value)
	case ItemRunBatchSize:
		s.runBatch, err = itemInt(item, value)
	case ItemDynamicShape:
		s.dynamicShape, err = itemBool(item, value)
	case ItemBF16Mode:
		s.bf16Mode, err = itemBool(item, value)
	case ItemFP16Mode:
		s.fp16Mode, err = itemBool(item, value)
	case ItemUseSimMode:
		s.simMode, err = itemBool(item, value)
	case ItemProcessorNum:
		s.processorNum, err = itemInt(item, value)
	case ItemBatchesPerStep:
		s.batchesPerStep, err = itemInt(item, value)
	case ItemUseDataType:
		dtype, ok := value.(dtypes.DType)
		if !ok {
			return errors.Wrapf(ErrUnsupportedOption, "item %s requires a dtypes.DType value, got %T", item, value)
		}
		s.useDataType = dtype
	case ItemLoadEngineMode:
		s.loadEngineMode, err = itemBool(item, value)
	case ItemUseDLACore:
		s.useDLACore, err = itemInt(item, value)
	case ItemQuantTable:
		table, ok := value.([]byte)
		if !ok {
			return errors.Wrapf(ErrUnsupportedOption, "item %s requires a []byte value, got %T", item, value)
		}
		s.quantTable = table
	case ItemQuantTableSize:
		s.quantTableSize, err = itemInt(item, value)
	case ItemEnableEngineCache:
		s.enableEngineCache, err = itemBool(item, value)
	case ItemCacheDir:
		dir, ok := value.(string)
		if !ok {
			return errors.Wrapf(ErrUnsupportedOption, "item %s requires a string value, got %T", item, value)
		}
		s.cacheDir = dir
	case ItemMinShape, ItemMaxShape, ItemOptShape:
		return errors.Wrapf(ErrUnsupportedOption,
			"item %s is per-argument, set it with Computation.SetArgumentShapeInfo", item)
	default:
		return errors.Wrapf(ErrUnsupportedOption, "unrecognized item %d", int32(item))
	}
	return err
}
