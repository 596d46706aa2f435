package store

var RunConditionalStoreContract = runConditionalStoreContract
